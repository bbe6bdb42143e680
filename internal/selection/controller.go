package selection

import (
	"context"
	"errors"
	"fmt"

	"iranfinance/internal/metrics"
	"iranfinance/internal/storage"
	logx "iranfinance/pkg/logx"
)

var ErrUnknownSubscriber = errors.New("selection: unknown subscriber")

// Store is the slice of storage the controller needs.
type Store interface {
	ListNames(ctx context.Context) ([]string, error)
	Subscriber(ctx context.Context, id int64) (storage.Subscriber, error)
	Subscriptions(ctx context.Context, id int64) ([]string, error)
	ReplaceSubscriptions(ctx context.Context, id int64, names []string) error
}

// Entry is one grid cell.
type Entry struct {
	Name     string
	Selected bool
}

// View is the rendered choosable grid. The commit control always follows
// the entries.
type View struct {
	Entries []Entry
}

// Selected lists the selected names in grid order.
func (v View) Selected() []string {
	var out []string
	for _, e := range v.Entries {
		if e.Selected {
			out = append(out, e.Name)
		}
	}
	return out
}

// Controller runs the toggle/commit protocol on top of Sessions.
type Controller struct {
	store    Store
	sessions *Sessions
	metrics  *metrics.Metrics
	log      logx.Logger
}

func NewController(store Store, sessions *Sessions, m *metrics.Metrics, log logx.Logger) *Controller {
	if sessions == nil {
		sessions = NewSessions()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{store: store, sessions: sessions, metrics: m, log: log}
}

func (c *Controller) seed(ctx context.Context, id int64) (*session, error) {
	if _, err := c.store.Subscriber(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownSubscriber
		}
		return nil, fmt.Errorf("load subscriber: %w", err)
	}
	names, err := c.store.Subscriptions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	return newSession(names), nil
}

// render lays out the grid. A catalogue read failure falls back to the
// pinned order so an open session keeps working.
func (c *Controller) render(ctx context.Context, id int64, s *session) View {
	c.refresh(ctx, id, s)
	return view(s)
}

// refresh pins the current catalogue into the session order.
func (c *Controller) refresh(ctx context.Context, id int64, s *session) {
	catalogue, err := c.store.ListNames(ctx)
	if err != nil {
		c.log.Warn("catalogue read failed; rendering pinned order", logx.Int64("subscriber", id), logx.Err(err))
		catalogue = nil
	}
	s.arrange(catalogue)
}

func view(s *session) View {
	v := View{Entries: make([]Entry, 0, len(s.order))}
	for _, n := range s.order {
		_, sel := s.working[n]
		v.Entries = append(v.Entries, Entry{Name: n, Selected: sel})
	}
	return v
}

// Start opens a fresh session seeded from the persisted subscriptions,
// replacing any session already open for id. Nothing is persisted.
func (c *Controller) Start(ctx context.Context, id int64) (View, error) {
	sl := c.sessions.lock(id)
	defer c.sessions.release(id, sl)

	s, err := c.seed(ctx, id)
	if err != nil {
		return View{}, err
	}
	sl.sess = s
	return c.render(ctx, id, s), nil
}

// Toggle flips name in the working set and returns the new view. A missing
// session is re-seeded first. Names that are not on the grid are ignored.
func (c *Controller) Toggle(ctx context.Context, id int64, name string) (View, error) {
	sl := c.sessions.lock(id)
	defer c.sessions.release(id, sl)

	if sl.sess == nil {
		s, err := c.seed(ctx, id)
		if err != nil {
			return View{}, err
		}
		c.log.Debug("toggle without session; re-seeded", logx.Int64("subscriber", id))
		sl.sess = s
	}
	c.refresh(ctx, id, sl.sess)
	if !sl.sess.toggle(name) {
		c.log.Debug("toggle of an item not on the grid ignored", logx.Int64("subscriber", id), logx.String("item", name))
	}
	return view(sl.sess), nil
}

// Render returns the current view, re-seeding a missing session.
func (c *Controller) Render(ctx context.Context, id int64) (View, error) {
	sl := c.sessions.lock(id)
	defer c.sessions.release(id, sl)

	if sl.sess == nil {
		s, err := c.seed(ctx, id)
		if err != nil {
			return View{}, err
		}
		sl.sess = s
	}
	return c.render(ctx, id, sl.sess), nil
}

// Commit replaces the persisted subscription set with the working set and
// closes the session. If persisting fails the session stays open so the user
// can retry. Without a session the persisted set is returned unchanged.
func (c *Controller) Commit(ctx context.Context, id int64) ([]string, error) {
	sl := c.sessions.lock(id)
	defer c.sessions.release(id, sl)

	if sl.sess == nil {
		names, err := c.store.Subscriptions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load subscriptions: %w", err)
		}
		return names, nil
	}

	names := sl.sess.selected()
	err := c.store.ReplaceSubscriptions(ctx, id, names)
	c.metrics.Commit(err)
	if err != nil {
		c.log.Error("commit failed; session kept", logx.Int64("subscriber", id), logx.Int("selected", len(names)), logx.Err(err))
		return nil, fmt.Errorf("commit: %w", err)
	}
	sl.sess = nil
	c.log.Info("subscriptions committed", logx.Int64("subscriber", id), logx.Int("count", len(names)))
	return names, nil
}

// Discard drops any open session for id.
func (c *Controller) Discard(id int64) {
	sl := c.sessions.lock(id)
	sl.sess = nil
	c.sessions.release(id, sl)
}
