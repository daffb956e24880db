package models

import "errors"

// Common errors surfaced by the session core. Handlers map these to HTTP
// status codes; the realtime layer answers the offending client with an
// error event.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStoryNotFound   = errors.New("story not found in session")
	ErrDuplicateTitle  = errors.New("a story with this title already exists")
	ErrEmptyTitle      = errors.New("story title must not be empty")
)
