package identity

import "errors"

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrEmailTaken   = errors.New("identity: email already registered")
	ErrInvalidInput = errors.New("identity: invalid input")
)
