package store

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when a key is missing or holds a value that
// counts as absent.
var ErrNotFound = errors.New("store: key not found")

// KV is the platform storage capability: the only place credentials and UI
// state are persisted.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Keys used by the client.
const (
	KeyToken      = "token"
	KeyUser       = "user"
	KeyActiveRoom = "chat.activeRoom"
)

// Absent reports whether a stored value must be treated as if nothing was
// stored. Browsers persisted the strings "null" and "undefined" when a nil
// value was written, so those count as absent too.
func Absent(value string) bool {
	switch strings.TrimSpace(value) {
	case "", "null", "undefined":
		return true
	}
	return false
}
