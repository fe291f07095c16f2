package app

import "errors"

var (
	// ErrInvalidInput covers malformed or missing fields. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized means the caller has no valid identity.
	ErrUnauthorized = errors.New("unauthorized")
	ErrUserNotFound = errors.New("user not found")
	// ErrPersistence wraps store failures. A compose that fails with it left
	// nothing behind and published nothing.
	ErrPersistence = errors.New("persistence failure")

	ErrUsernameExists    = errors.New("username already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)
