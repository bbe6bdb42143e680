package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageNotFound means the edit target is gone or can no longer be
	// edited (deleted, too old, foreign).
	ErrMessageNotFound = errors.New("transport: message not found or not editable")
	// ErrMessageNotModified means the edit carried exactly the current content.
	ErrMessageNotModified = errors.New("transport: message not modified")
	// ErrRecipientUnreachable means the recipient blocked the bot, left or was
	// deactivated. Retrying will not help.
	ErrRecipientUnreachable = errors.New("transport: recipient unreachable")
)

// ChannelError wraps a raw channel error with its classification so both
// errors.Is(err, ErrX) and the original description are available.
type ChannelError struct {
	Kind error
	Err  error
}

func (e *ChannelError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *ChannelError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Classify wraps err with kind. A nil err stays nil.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	if kind == nil {
		return err
	}
	return &ChannelError{Kind: kind, Err: err}
}
