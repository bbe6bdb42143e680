package telegram

import (
	"errors"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "iranfinance/internal/transport"
)

var (
	notModifiedMarkers = []string{
		"message is not modified",
	}
	notFoundMarkers = []string{
		"message to edit not found",
		"message can't be edited",
		"message_id_invalid",
		"message not found",
	}
	unreachableMarkers = []string{
		"bot was blocked",
		"user is deactivated",
		"bot was kicked",
		"chat not found",
		"have no rights to send",
		"bot can't initiate conversation",
	}
)

// Classify maps a raw Telegram error to a transport error class. Errors that
// match no class are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, notModifiedMarkers):
		return kit.Classify(kit.ErrMessageNotModified, err)
	case containsAny(msg, notFoundMarkers):
		return kit.Classify(kit.ErrMessageNotFound, err)
	case containsAny(msg, unreachableMarkers):
		return kit.Classify(kit.ErrRecipientUnreachable, err)
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == http.StatusForbidden {
		return kit.Classify(kit.ErrRecipientUnreachable, err)
	}
	return err
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
