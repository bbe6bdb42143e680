package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "iranfinance/internal/runtime/supervisor"
	kit "iranfinance/internal/transport"
	logx "iranfinance/pkg/logx"
	"iranfinance/pkg/tgui"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles callback data "<ns>:<action>[:<payload>]".
type CallbackRoute struct {
	Namespace string
	Action    string
	Timeout   time.Duration
	Handle    CallbackHandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	From    kit.Sender
	Command string // command name or "cb:<ns>:<action>"
	Args    []string
	Payload string // callback payload (raw string)
	ReqID   string

	// Set for callbacks: the message carrying the pressed button.
	CallbackID string
	MessageID  int

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Config tunes the dispatch loop.
type Config struct {
	Workers  int           // default 4
	QueueLen int           // per worker, default 64
	Timeout  time.Duration // default handler timeout, default 30s
}

// Router routes commands and callback presses to handlers on a worker pool.
// Updates from one chat always land on the same worker so a user's presses
// are handled in the order they arrived.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]map[string]CallbackRoute // ns -> action -> route
	unknown   HandlerFunc

	cfg     Config
	log     logx.Logger
	adapter kit.Adapter

	runMu  sync.Mutex
	queues []chan func()
	sup    *rtsup.Supervisor
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Router{
		commands:  map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		cfg:       cfg,
		log:       log,
		adapter:   adapter,
	}
}

// SetRegistry replaces the command and callback tables. unknown, when set,
// handles slash commands that match nothing.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute, unknown HandlerFunc) {
	byName := map[string]Command{}
	for _, c := range cmds {
		name := commandName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		byName[name] = c
		for _, a := range c.Aliases {
			if sa := commandName(a); sa != "" {
				if _, exists := byName[sa]; !exists {
					byName[sa] = c
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		ns := strings.TrimSpace(rt.Namespace)
		act := strings.TrimSpace(rt.Action)
		if ns == "" || act == "" || rt.Handle == nil {
			continue
		}
		if cb[ns] == nil {
			cb[ns] = map[string]CallbackRoute{}
		}
		cb[ns][act] = rt
	}

	r.mu.Lock()
	r.commands = byName
	r.callbacks = cb
	r.unknown = unknown
	r.mu.Unlock()
}

// PublishMenu pushes the command list to the platform menu when the adapter
// supports it.
func (r *Router) PublishMenu(ctx context.Context, cmds []Command) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, buildMenuCommands(cmds))
}

// Supervisor returns the worker pool supervisor while the loop runs.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	queues := make([]chan func(), r.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan func(), r.cfg.QueueLen)
	}
	r.runMu.Lock()
	r.queues = queues
	r.sup = sup
	r.runMu.Unlock()

	r.log.Info("update dispatcher started", logx.Int("workers", len(queues)), logx.Int("queue_cap", r.cfg.QueueLen))

	for i, q := range queues {
		idx, q := i, q
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-q:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in update job", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		r.runMu.Lock()
		r.queues = nil
		r.sup = nil
		r.runMu.Unlock()
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("update dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// enqueue hands fn to the worker owning chatID. It never blocks.
func (r *Router) enqueue(chatID int64, fn func()) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if len(r.queues) == 0 {
		return false
	}
	n := chatID % int64(len(r.queues))
	if n < 0 {
		n = -n
	}
	select {
	case r.queues[n] <- fn:
		return true
	default:
		return false
	}
}

// Route dispatches a single update.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) newRequest(up kit.Update, chat int64, from kit.Sender, command string) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: chat},
		From:    from,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)

	r.mu.RLock()
	cmd, ok := r.commands[word]
	unknown := r.unknown
	r.mu.RUnlock()

	var h HandlerFunc
	timeout := r.cfg.Timeout
	switch {
	case ok:
		h = cmd.Handle
		if cmd.Timeout > 0 {
			timeout = cmd.Timeout
		}
	case unknown != nil:
		h = unknown
	default:
		return
	}

	req := r.newRequest(up, msg.ChatID, msg.From, word)
	req.Args = parts[1:]
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	if !r.enqueue(msg.ChatID, func() { _ = final(ctx, req) }) {
		r.log.Warn("update queue full; command dropped", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", word))
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	ns, action, payload := tgui.ParseData(strings.TrimSpace(cb.Data))
	if ns == "" || action == "" {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	r.mu.RLock()
	route, ok := r.callbacks[ns][action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := r.newRequest(up, cb.ChatID, cb.From, "cb:"+ns+":"+action)
	req.Payload = payload
	req.CallbackID = cb.ID
	req.MessageID = cb.MessageID

	timeout := r.cfg.Timeout
	if route.Timeout > 0 {
		timeout = route.Timeout
	}
	h := func(ctx context.Context, req *Request) error { return route.Handle(ctx, req, payload) }
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	// Handlers answer the callback themselves; a failed one still clears the
	// client's loading spinner.
	job := func() {
		if err := final(ctx, req); err != nil {
			_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		}
	}
	if !r.enqueue(cb.ChatID, job) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy, try again")
	}
}
