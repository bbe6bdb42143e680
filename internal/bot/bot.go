// Package bot is the Telegram front-end: the /start, /select and /status
// commands plus the selection grid callbacks.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"iranfinance/internal/selection"
	kit "iranfinance/internal/transport"
	"iranfinance/internal/transport/telegram/router"
	logx "iranfinance/pkg/logx"
	"iranfinance/pkg/tgui"
)

// Store is the persistence the front-end touches directly.
type Store interface {
	EnsureSubscriber(ctx context.Context, id int64, displayName string) error
	Subscriptions(ctx context.Context, id int64) ([]string, error)
}

type Bot struct {
	store  Store
	ctl    *selection.Controller
	tokens *tgui.TokenStore
	log    logx.Logger
}

func New(store Store, ctl *selection.Controller, tokens *tgui.TokenStore, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if tokens == nil {
		tokens = tgui.NewTokenStore().WithTTL(24 * time.Hour)
	}
	return &Bot{store: store, ctl: ctl, tokens: tokens, log: log}
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "شروع و انتخاب موارد", Handle: b.handleStart},
		{Name: "select", Description: "ویرایش موارد انتخابی", Handle: b.handleStart},
		{Name: "status", Description: "نمایش موارد انتخابی", Handle: b.handleStatus},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Namespace: nsSelect, Action: actionToggle, Handle: b.handleToggle},
		{Namespace: nsSelect, Action: actionDone, Handle: b.handleDone},
	}
}

// Unknown answers slash commands nobody handles.
func (b *Bot) Unknown(ctx context.Context, req *router.Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, textUnknownCmd, nil)
	return err
}

func displayName(s kit.Sender) string {
	if u := strings.TrimSpace(s.Username); u != "" {
		return "@" + u
	}
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}

// handleStart registers the user and opens a fresh selection session.
func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	id := req.From.ID
	if err := b.store.EnsureSubscriber(ctx, id, displayName(req.From)); err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, textBusy, nil)
		return err
	}
	v, err := b.ctl.Start(ctx, id)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, textBusy, nil)
		return err
	}
	if len(v.Entries) == 0 {
		b.ctl.Discard(id)
		_, err := req.Adapter.SendText(ctx, req.Chat, textEmptyCatalog, nil)
		return err
	}
	_, err = chooser(textChoose, v, b.tokens).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleStatus(ctx context.Context, req *router.Request) error {
	names, err := b.store.Subscriptions(ctx, req.From.ID)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, textBusy, nil)
		return err
	}
	_, err = status(names).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleToggle(ctx context.Context, req *router.Request, payload string) error {
	name, ok := tgui.ResolvePayload(b.tokens, payload)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, req.CallbackID, textExpired)
	}
	v, err := b.ctl.Toggle(ctx, req.From.ID, name)
	if err != nil {
		if errors.Is(err, selection.ErrUnknownSubscriber) {
			return req.Adapter.AnswerCallback(ctx, req.CallbackID, textNeedStart)
		}
		_ = req.Adapter.AnswerCallback(ctx, req.CallbackID, textBusy)
		return err
	}
	_ = req.Adapter.AnswerCallback(ctx, req.CallbackID, "")

	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}
	if err := chooser(textChooseAgain, v, b.tokens).Edit(ctx, req.Adapter, ref); err != nil && !errors.Is(err, kit.ErrMessageNotModified) {
		return err
	}
	return nil
}

func (b *Bot) handleDone(ctx context.Context, req *router.Request, _ string) error {
	names, err := b.ctl.Commit(ctx, req.From.ID)
	if err != nil {
		_ = req.Adapter.AnswerCallback(ctx, req.CallbackID, textRetryShort)
		_, _ = req.Adapter.SendText(ctx, req.Chat, textSaveFailed, nil)
		return err
	}
	_ = req.Adapter.AnswerCallback(ctx, req.CallbackID, "")

	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.MessageID}
	err = confirmation(names).Edit(ctx, req.Adapter, ref)
	switch {
	case err == nil, errors.Is(err, kit.ErrMessageNotModified):
		return nil
	case errors.Is(err, kit.ErrMessageNotFound):
		// The grid message is gone; confirm in a fresh one.
		_, err = confirmation(names).Send(ctx, req.Adapter, req.Chat)
		return err
	default:
		return err
	}
}
