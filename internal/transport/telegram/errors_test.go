package telegram

import (
	"errors"
	"fmt"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "iranfinance/internal/transport"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not modified", errors.New("telegram: Bad Request: message is not modified: specified new message content and reply markup are exactly the same (400)"), kit.ErrMessageNotModified},
		{"edit target gone", errors.New("telegram: Bad Request: message to edit not found (400)"), kit.ErrMessageNotFound},
		{"too old", errors.New("telegram: Bad Request: message can't be edited (400)"), kit.ErrMessageNotFound},
		{"blocked", errors.New("telegram: Forbidden: bot was blocked by the user (403)"), kit.ErrRecipientUnreachable},
		{"deactivated", errors.New("telegram: Forbidden: user is deactivated (403)"), kit.ErrRecipientUnreachable},
		{"forbidden code", &tele.Error{Code: 403, Description: "Forbidden: something new"}, kit.ErrRecipientUnreachable},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("Classify(%v)=%v, want class %v", tc.err, got, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("classified error lost the original: %v", got)
			}
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	t.Parallel()

	if Classify(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	raw := fmt.Errorf("telegram: Too Many Requests: retry after 5 (429)")
	got := Classify(raw)
	if got != raw {
		t.Fatalf("unclassified error changed: %v", got)
	}
	for _, class := range []error{kit.ErrMessageNotFound, kit.ErrMessageNotModified, kit.ErrRecipientUnreachable} {
		if errors.Is(got, class) {
			t.Fatalf("unexpected class %v", class)
		}
	}
}
