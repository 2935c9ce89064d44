package app

import (
	"errors"

	"cartshare/internal/membership"
)

var (
	// ErrNotFound is returned when a referenced list, item, or invite
	// code does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is returned when the actor lacks membership or
	// the required role. The HTTP layer renders it identically to
	// ErrNotFound so outsiders cannot confirm a list exists.
	ErrAccessDenied = errors.New("access denied")

	// ErrAlreadyMember mirrors the registry error for join attempts by
	// existing members. Reported distinctly; it discloses nothing
	// the member does not already know.
	ErrAlreadyMember = membership.ErrAlreadyMember

	// ErrValidation wraps malformed-input failures. These are rejected
	// before any store write or broadcast.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is shown verbatim on failed logins and
	// must not enable account enumeration.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	// ErrEmailExists is returned when registering an email that is
	// already taken.
	ErrEmailExists = errors.New("email already registered")
)
