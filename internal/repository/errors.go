// Package repository implements MySQL persistence for users and tasks.
// Sentinel errors let handlers map storage outcomes onto the HTTP error
// taxonomy without inspecting driver errors.
package repository

import "errors"

// ErrEmailExists is returned when an insert collides with the unique email
// index. Handlers translate it into a conflict response.
var ErrEmailExists = errors.New("email already exists")

// ErrNoMatch is returned by guarded updates (refresh rotation, one-time token
// consumption) when no row satisfied the WHERE clause. It deliberately does
// not say why: wrong token, expired token and already-consumed token are
// indistinguishable by design.
var ErrNoMatch = errors.New("no matching record")

// ErrTaskNotFound is returned when a task does not exist or belongs to
// another user. Ownership mismatches surface as not-found so existence is
// never confirmed to non-owners.
var ErrTaskNotFound = errors.New("task not found")
