package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"iranfinance/internal/metrics"
	"iranfinance/internal/storage"
	kit "iranfinance/internal/transport"
	logx "iranfinance/pkg/logx"
)

// Store is what a tick reads and writes.
type Store interface {
	ActiveSubscribers(ctx context.Context) ([]storage.Subscriber, error)
	Subscriptions(ctx context.Context, id int64) ([]string, error)
	Get(ctx context.Context, names []string) (map[string]storage.Item, error)
	SetPointer(ctx context.Context, id int64, messageID int) error
}

type Config struct {
	Workers         int
	DeliveryTimeout time.Duration
	Location        *time.Location
}

// Report summarizes one tick.
type Report struct {
	ID          string
	Subscribers int
	Skipped     int
	Outcomes    map[Outcome]int
	Took        time.Duration
}

// Dispatcher runs reconciliation ticks: one digest per subscriber, edited in
// place when possible.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config

	tickMu sync.Mutex

	store   Store
	adapter kit.Adapter
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, store Store, adapter kit.Adapter, m *metrics.Metrics, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:     normalize(cfg),
		store:   store,
		adapter: adapter,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

func normalize(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return cfg
}

// Apply swaps the runtime knobs. It takes effect on the next tick.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = normalize(cfg)
	d.mu.Unlock()
}

// Tick runs one reconciliation pass. Ticks never overlap. The returned error
// is non-nil only when the subscriber list could not be read; per-subscriber
// failures are logged and counted in the report.
func (d *Dispatcher) Tick(ctx context.Context) (Report, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	start := time.Now()
	rep := Report{ID: uuid.NewString(), Outcomes: map[Outcome]int{}}
	log := d.log.With(logx.String("tick", rep.ID))
	defer func() {
		rep.Took = time.Since(start)
		d.metrics.ObserveTick(rep.Took)
	}()

	subs, err := d.store.ActiveSubscribers(ctx)
	if err != nil {
		log.Error("list active subscribers failed", logx.Err(err))
		return rep, fmt.Errorf("list active subscribers: %w", err)
	}
	rep.Subscribers = len(subs)
	if len(subs) == 0 {
		log.Debug("tick: no active subscribers")
		return rep, nil
	}

	type done struct {
		skipped bool
		outcome Outcome
	}
	jobs := make(chan storage.Subscriber)
	results := make(chan done, len(subs))
	now := d.now()

	workers := min(cfg.Workers, len(subs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				out, skipped := d.reconcile(ctx, cfg, log, now, sub)
				results <- done{skipped: skipped, outcome: out}
			}
		}()
	}

feed:
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- sub:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for r := range results {
		if r.skipped {
			rep.Skipped++
			continue
		}
		rep.Outcomes[r.outcome]++
	}

	fields := []logx.Field{
		logx.Int("subscribers", rep.Subscribers),
		logx.Int("skipped", rep.Skipped),
		logx.Int("edited", rep.Outcomes[EditedInPlace]),
		logx.Int("sent", rep.Outcomes[SentNew]),
		logx.Int("unchanged", rep.Outcomes[Unchanged]),
		logx.Int("unreachable", rep.Outcomes[Unreachable]),
		logx.Int("failed", rep.Outcomes[Failed]),
		logx.Duration("took", time.Since(start)),
	}
	if ctx.Err() != nil {
		log.Warn("tick interrupted", fields...)
		return rep, nil
	}
	log.Debug("tick finished", fields...)
	return rep, nil
}

// reconcile handles one subscriber. skipped is true when nothing was sent
// because no subscribed item is in the catalogue yet.
func (d *Dispatcher) reconcile(ctx context.Context, cfg Config, log logx.Logger, now time.Time, sub storage.Subscriber) (Outcome, bool) {
	log = log.With(logx.Int64("subscriber", sub.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in delivery", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	defer cancel()

	names, err := d.store.Subscriptions(dctx, sub.ID)
	if err != nil {
		log.Warn("load subscriptions failed", logx.Err(err))
		d.metrics.Delivery(Failed.String())
		return Failed, false
	}
	found, err := d.store.Get(dctx, names)
	if err != nil {
		log.Warn("load items failed", logx.Err(err))
		d.metrics.Delivery(Failed.String())
		return Failed, false
	}
	if len(found) == 0 {
		log.Debug("no subscribed item in catalogue yet", logx.Int("subscribed", len(names)))
		return Failed, true
	}
	items := make([]storage.Item, 0, len(found))
	for _, it := range found {
		items = append(items, it)
	}
	text := Compose(now, cfg.Location, items)

	res := d.deliver(dctx, sub, text)
	d.metrics.Delivery(res.Outcome.String())
	switch res.Outcome {
	case Unreachable:
		log.Info("recipient unreachable; skipped until next tick", logx.Err(res.Err))
	case Failed:
		log.Warn("digest delivery failed", logx.Int("message_id", sub.LastMessageID), logx.Err(res.Err))
	}

	if act := Decide(res); act.Set {
		// Persist even if the delivery context ran out: the message exists.
		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer pcancel()
		if err := d.store.SetPointer(pctx, sub.ID, act.MessageID); err != nil {
			log.Error("pointer update failed", logx.Int("message_id", act.MessageID), logx.Err(err))
		}
	}
	return res.Outcome, false
}

// deliver edits the pointed-at message, falling back to a fresh send when the
// old one cannot be edited anymore.
func (d *Dispatcher) deliver(ctx context.Context, sub storage.Subscriber, text string) Result {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if sub.LastMessageID != 0 {
		err := within(ctx, func() error {
			return d.adapter.EditText(ctx, kit.MessageRef{ChatID: sub.ID, MessageID: sub.LastMessageID}, text, opt)
		})
		switch {
		case err == nil:
			return Result{Outcome: EditedInPlace}
		case errors.Is(err, kit.ErrMessageNotModified):
			return Result{Outcome: Unchanged}
		case errors.Is(err, kit.ErrRecipientUnreachable):
			return Result{Outcome: Unreachable, Err: err}
		case !errors.Is(err, kit.ErrMessageNotFound):
			return Result{Outcome: Failed, Err: err}
		}
		d.log.Debug("edit target gone; sending new digest", logx.Int64("subscriber", sub.ID), logx.Int("message_id", sub.LastMessageID))
	}

	var ref kit.MessageRef
	err := within(ctx, func() (err error) {
		ref, err = d.adapter.SendText(ctx, kit.ChatTarget{ChatID: sub.ID}, text, opt)
		return err
	})
	switch {
	case err == nil:
		return Result{Outcome: SentNew, MessageID: ref.MessageID}
	case errors.Is(err, kit.ErrRecipientUnreachable):
		return Result{Outcome: Unreachable, Err: err}
	default:
		return Result{Outcome: Failed, Err: err}
	}
}

// within runs call and waits for it until ctx is done. Adapters are not
// required to honour ctx, so a call still running at the deadline is left to
// finish in the background and its result is dropped.
func within(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("adapter panic: %v", r)
			}
		}()
		done <- call()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("delivery: %w", ctx.Err())
	}
}
