package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Sender is the user behind an update, as reported by the channel.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type Message struct {
	ID     int
	ChatID int64
	From   Sender
	Text   string
}

type Callback struct {
	ID        string
	ChatID    int64
	MessageID int
	From      Sender
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkup is adapter-specific (Telegram: *telebot.ReplyMarkup).
	// An edit without markup drops the inline keyboard of the edited message.
	ReplyMarkup any
}

// Adapter is the outbound/inbound messaging channel.
//
// SendText and EditText return errors that can be classified with errors.Is
// against ErrMessageNotFound, ErrMessageNotModified and ErrRecipientUnreachable.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is optionally implemented by adapters that can publish
// the bot command list to the platform menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
