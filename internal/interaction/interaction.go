// Package interaction holds the page-local state machines layered on the playback cursor.
// Callbacks are never invoked while a machine holds its own lock, so they may close the machine.
package interaction

import "errors"

// ErrInvalidTransition reports an event that the current state does not accept.
var ErrInvalidTransition = errors.New("interaction: invalid transition")
