package domain

import "errors"

// ErrNotFound is returned when a session id is absent from the store.
var ErrNotFound = errors.New("session not found")

// ErrStaleVersion is returned when a save or delete carries a version that no
// longer matches the stored one.
var ErrStaleVersion = errors.New("stale session version")

// ErrAlreadyExists is returned by Create when the id is already taken.
var ErrAlreadyExists = errors.New("session already exists")

// ErrStoreUnavailable wraps transient backend failures.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrIDGenerationExhausted is returned when every generated id collided.
// It signals an entropy or configuration problem and is never retried.
var ErrIDGenerationExhausted = errors.New("session id generation exhausted")

// ErrInvalidSessionID is returned for candidate ids that fail structural validation.
var ErrInvalidSessionID = errors.New("invalid session id")

// IsBenignRace reports whether err only means that a peer already performed
// an equivalent action on the record.
func IsBenignRace(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleVersion)
}
