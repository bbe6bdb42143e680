package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iranfinance/internal/metrics"
	"iranfinance/internal/storage"
	kit "iranfinance/internal/transport"
	logx "iranfinance/pkg/logx"
)

// chatSim is a channel that keeps message bodies and answers edits the way
// Telegram does.
type chatSim struct {
	mu      sync.Mutex
	nextID  int
	msgs    map[kit.MessageRef]string
	blocked map[int64]bool
	sendErr error
	editErr error
	delay   time.Duration
	// deaf makes wait sleep through delay even after ctx is done, like a
	// client that takes no context.
	deaf    bool
	sends   int
	edits   int
}

func newChatSim() *chatSim {
	return &chatSim{nextID: 100, msgs: map[kit.MessageRef]string{}, blocked: map[int64]bool{}}
}

func (c *chatSim) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *chatSim) Stop(context.Context) error                    { return nil }
func (c *chatSim) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (c *chatSim) wait(ctx context.Context) error {
	if c.delay == 0 {
		return nil
	}
	if c.deaf {
		time.Sleep(c.delay)
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.delay):
		return nil
	}
}

func (c *chatSim) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if err := c.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.blocked[to.ChatID] {
		return kit.MessageRef{}, kit.Classify(kit.ErrRecipientUnreachable, errors.New("Forbidden: bot was blocked by the user"))
	}
	if c.sendErr != nil {
		return kit.MessageRef{}, c.sendErr
	}
	c.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, MessageID: c.nextID}
	c.msgs[ref] = text
	return ref, nil
}

func (c *chatSim) EditText(ctx context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits++
	if c.blocked[ref.ChatID] {
		return kit.Classify(kit.ErrRecipientUnreachable, errors.New("Forbidden: bot was blocked by the user"))
	}
	if c.editErr != nil {
		return c.editErr
	}
	cur, ok := c.msgs[ref]
	if !ok {
		return kit.Classify(kit.ErrMessageNotFound, errors.New("Bad Request: message to edit not found"))
	}
	if cur == text {
		return kit.Classify(kit.ErrMessageNotModified, errors.New("Bad Request: message is not modified"))
	}
	c.msgs[ref] = text
	return nil
}

func (c *chatSim) body(chat int64, id int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[kit.MessageRef{ChatID: chat, MessageID: id}]
}

func (c *chatSim) drop(chat int64, id int) {
	c.mu.Lock()
	delete(c.msgs, kit.MessageRef{ChatID: chat, MessageID: id})
	c.mu.Unlock()
}

type fixture struct {
	store storage.Store
	chat  *chatSim
	m     *metrics.Metrics
	d     *Dispatcher
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "d.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{store: st, chat: newChatSim(), m: metrics.New(), now: time.Date(2025, 3, 21, 9, 30, 0, 0, time.UTC)}
	f.d = New(Config{Workers: 2, DeliveryTimeout: time.Second, Location: time.UTC}, st, f.chat, f.m, logx.Nop())
	f.d.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) subscribe(t *testing.T, id int64, names ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.EnsureSubscriber(ctx, id, fmt.Sprint("user", id)))
	require.NoError(t, f.store.ReplaceSubscriptions(ctx, id, names))
}

func (f *fixture) price(t *testing.T, name string, v float64) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), name, v, f.now))
}

func (f *fixture) pointer(t *testing.T, id int64) int {
	t.Helper()
	s, err := f.store.Subscriber(context.Background(), id)
	require.NoError(t, err)
	return s.LastMessageID
}

func TestFirstTickSendsAndRecordsPointer(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 1, "Gold")
	f.price(t, "Gold", 100)

	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Outcomes[SentNew])

	ptr := f.pointer(t, 1)
	require.NotZero(t, ptr)
	body := f.chat.body(1, ptr)
	assert.Contains(t, body, "Gold")
	assert.Contains(t, body, "100")
}

func TestNextTickEditsInPlace(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 1, "Gold")
	f.price(t, "Gold", 100)
	_, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	ptr := f.pointer(t, 1)

	f.now = f.now.Add(time.Minute)
	f.price(t, "Gold", 110)
	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Outcomes[EditedInPlace])
	assert.Equal(t, ptr, f.pointer(t, 1))
	assert.Contains(t, f.chat.body(1, ptr), "110")
	assert.Equal(t, 1, f.chat.sends)
}

func TestEditTargetGoneFallsBackToSend(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 1, "Gold")
	f.price(t, "Gold", 100)
	_, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	old := f.pointer(t, 1)
	f.chat.drop(1, old)

	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Outcomes[SentNew])
	ptr := f.pointer(t, 1)
	assert.NotEqual(t, old, ptr)
	assert.Contains(t, f.chat.body(1, ptr), "Gold")
}

func TestRepeatedTickIsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 1, "Gold")
	f.price(t, "Gold", 100)
	_, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	ptr := f.pointer(t, 1)

	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Outcomes[Unchanged])
	assert.Zero(t, rep.Outcomes[Failed])
	assert.Equal(t, ptr, f.pointer(t, 1))
	assert.Equal(t, 1, f.chat.sends)
	assert.Equal(t, 1.0, f.m.Value("iranfinance_deliveries_total", "outcome", "unchanged"))
}

func TestUnresolvedSubscriptionsAreSkipped(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 1, "Silver")
	f.price(t, "Gold", 100)

	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, f.chat.sends)
	assert.Zero(t, f.pointer(t, 1))
}

func TestSubscribersWithoutSubscriptionsAreIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.EnsureSubscriber(context.Background(), 7, "idle"))
	f.price(t, "Gold", 100)

	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Subscribers)
	assert.Zero(t, f.chat.sends)
}

func TestUnreachableKeepsPointerAndDoesNotStopTick(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 1, "Gold")
	f.subscribe(t, 2, "Gold")
	f.price(t, "Gold", 100)
	_, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	ptr1 := f.pointer(t, 1)

	f.chat.blocked[1] = true
	f.price(t, "Gold", 120)
	f.now = f.now.Add(time.Minute)
	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Outcomes[Unreachable])
	assert.Equal(t, 1, rep.Outcomes[EditedInPlace])
	assert.Equal(t, ptr1, f.pointer(t, 1))
	assert.Contains(t, f.chat.body(2, f.pointer(t, 2)), "120")
}

func TestOtherErrorsLeavePointerUntouched(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 1, "Gold")
	f.price(t, "Gold", 100)

	f.chat.sendErr = errors.New("Too Many Requests: retry after 5")
	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Outcomes[Failed])
	assert.Zero(t, f.pointer(t, 1))

	f.chat.sendErr = nil
	_, err = f.d.Tick(context.Background())
	require.NoError(t, err)
	ptr := f.pointer(t, 1)
	require.NotZero(t, ptr)

	f.chat.editErr = errors.New("Internal Server Error")
	f.now = f.now.Add(time.Minute)
	rep, err = f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Outcomes[Failed])
	assert.Equal(t, ptr, f.pointer(t, 1))
	assert.Equal(t, 2, f.chat.sends, "a failed edit must not fall back to send")
}

func TestSlowDeliveryTimesOut(t *testing.T) {
	f := newFixture(t)
	f.d.Apply(Config{Workers: 1, DeliveryTimeout: 20 * time.Millisecond, Location: time.UTC})
	f.subscribe(t, 1, "Gold")
	f.price(t, "Gold", 100)
	f.chat.delay = time.Second

	start := time.Now()
	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, rep.Outcomes[Failed])
	assert.Zero(t, f.pointer(t, 1))
}

func TestDeliveryTimeoutHoldsForClientsIgnoringContext(t *testing.T) {
	f := newFixture(t)
	f.d.Apply(Config{Workers: 1, DeliveryTimeout: 20 * time.Millisecond, Location: time.UTC})
	f.subscribe(t, 1, "Gold")
	f.price(t, "Gold", 100)
	f.chat.delay = 400 * time.Millisecond
	f.chat.deaf = true

	start := time.Now()
	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, 1, rep.Outcomes[Failed])
	assert.Zero(t, f.pointer(t, 1))
}

func TestLongDigestStaysWithinLimitAndKeepsMarkup(t *testing.T) {
	f := newFixture(t)
	names := make([]string, 0, 160)
	for i := 0; i < 160; i++ {
		name := fmt.Sprintf("سکه امامی طرح جدید بانک مرکزی %03d", i)
		names = append(names, name)
		f.price(t, name, float64(1000000+i))
	}
	f.subscribe(t, 1, names...)

	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Outcomes[SentNew])

	body := f.chat.body(1, f.pointer(t, 1))
	assert.LessOrEqual(t, utf8.RuneCountInString(body), MaxDigestRunes)
	assert.Equal(t, strings.Count(body, "<b>"), strings.Count(body, "</b>"))
	assert.Equal(t, strings.Count(body, "<i>"), strings.Count(body, "</i>"))
	assert.True(t, strings.HasSuffix(body, "</i>"), "footer must survive")
	assert.Contains(t, body, "قیمت‌ها بروز هستند.")

	shown := strings.Count(body, "🔹")
	require.Less(t, shown, len(names))
	assert.Contains(t, body, fmt.Sprintf("➕ %d مورد دیگر", len(names)-shown))
	assert.Contains(t, body, "<b>"+names[0]+":</b>")
}

func TestComposeFitsExactlyWithoutMoreLine(t *testing.T) {
	items := []storage.Item{{Name: "Gold", Value: 1}, {Name: "USD", Value: 2}}
	got := Compose(time.Date(2025, 6, 15, 9, 30, 5, 0, time.UTC), time.UTC, items)
	assert.NotContains(t, got, "مورد دیگر")
	assert.Equal(t, 2, strings.Count(got, "🔹"))
}

func TestManySubscribersAllReconciled(t *testing.T) {
	f := newFixture(t)
	f.price(t, "Gold", 100)
	f.price(t, "USD", 60000)
	for id := int64(1); id <= 25; id++ {
		f.subscribe(t, id, "Gold", "USD", "Missing")
	}

	rep, err := f.d.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, rep.Outcomes[SentNew])
	for id := int64(1); id <= 25; id++ {
		body := f.chat.body(id, f.pointer(t, id))
		assert.Contains(t, body, "60,000")
		assert.NotContains(t, body, "Missing")
	}
}

func TestDigestOrdersByName(t *testing.T) {
	items := []storage.Item{{Name: "B", Value: 2}, {Name: "A", Value: 1}, {Name: "B", Value: 2}}
	got := Compose(time.Date(2025, 6, 15, 9, 30, 5, 0, time.UTC), time.UTC, items)
	a := strings.Index(got, "<b>A:</b>")
	b := strings.Index(got, "<b>B:</b>")
	require.True(t, a >= 0 && b >= 0, got)
	assert.Less(t, a, b)
	assert.Equal(t, 1, strings.Count(got, "<b>B:</b>"))
	assert.Contains(t, got, "09:30:05")
	assert.Contains(t, got, "1404/03/25")
}

func TestDigestEscapesNames(t *testing.T) {
	got := Compose(time.Unix(0, 0), time.UTC, []storage.Item{{Name: "<x&y>", Value: 1}})
	assert.Contains(t, got, "<b>&lt;x&amp;y&gt;:</b>")
}

func TestFormatValue(t *testing.T) {
	cases := map[float64]string{
		0:          "0",
		999:        "999",
		1000:       "1,000",
		1234567.6:  "1,234,568",
		-45000:     "-45,000",
		12.4:       "12",
		100000000:  "100,000,000",
		-1000000.2: "-1,000,000",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatValue(in), "FormatValue(%v)", in)
	}
}

func TestDecide(t *testing.T) {
	assert.Equal(t, PointerAction{Set: true, MessageID: 9}, Decide(Result{Outcome: SentNew, MessageID: 9}))
	for _, o := range []Outcome{EditedInPlace, Unchanged, Unreachable, Failed} {
		assert.Equal(t, Keep, Decide(Result{Outcome: o, MessageID: 9}), o.String())
	}
	assert.Equal(t, Keep, Decide(Result{Outcome: SentNew}))
}
