package conversation

import "github.com/pkg/errors"

// ErrSessionNotFound is returned by all registry operations referencing an
// unknown or deleted session id.
var ErrSessionNotFound = errors.New("session not found")
