package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/":                       "/",
		"/healthz":                "/healthz",
		"/v1/users":               "/v1/users",
		"/v1/users/":              "/v1/users/",
		"/v1/users/01HZX0QK3M":    "/v1/users/:id",
		"/v1/users/abc?x=1":       "/v1/users/:id",
		"/v1/users/abc/sub":       "/v1/users/abc/sub",
		"/v1/auth/login":          "/v1/auth/login",
		"/v1/admin/users?page=2":  "/v1/admin/users",
	}
	for in, want := range cases {
		if got := CanonicalPath(in); got != want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", in, got, want)
		}
	}
}
