package storage

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// Item is one catalogue entry. There is no history: a new quote for the same
// name overwrites the row.
type Item struct {
	Name      string
	Value     float64
	UpdatedAt time.Time
}

// Subscriber is a channel user known to the bot.
type Subscriber struct {
	ID          int64
	DisplayName string
	// LastMessageID is the message the next digest should edit. 0 means none.
	LastMessageID int
}

type Stats struct {
	Items       int
	Subscribers int
	Active      int
}
