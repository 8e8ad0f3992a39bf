// Package repository defines the store interfaces and sentinel errors
// shared by handlers and middleware, plus their MySQL implementations.
// Every lookup miss or constraint violation surfaces as one of these
// typed values; no raw driver error crosses the repository boundary to
// a caller that would have to string-match it.
package repository

import "errors"

// ErrEmailExists is returned when creating or re-addressing a user
// collides with the unique email constraint.
var ErrEmailExists = errors.New("email already exists")

// ErrUserNotFound is returned for any user lookup miss.
var ErrUserNotFound = errors.New("user not found")

// ErrSessionNotFound is returned when no active (non-revoked) session
// matches the lookup, including a rotate whose conditional update found
// no matching row.
var ErrSessionNotFound = errors.New("session not found")

// ErrDuplicateToken is returned when a new session would collide with
// an existing token string. Astronomically unlikely given token entropy,
// but handled rather than ignored.
var ErrDuplicateToken = errors.New("duplicate session token")
