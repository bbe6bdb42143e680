// Package source pulls the price feed and writes it into the catalogue.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"iranfinance/internal/metrics"
	logx "iranfinance/pkg/logx"
)

// ounceMarker tags captions quoted per ounce; their raw values are scaled up
// instead of down.
const ounceMarker = "انس"

const maxBody = 4 << 20

// Upserter is the catalogue write side.
type Upserter interface {
	Upsert(ctx context.Context, name string, value float64, at time.Time) error
}

// Quote is one normalized feed entry.
type Quote struct {
	Name  string
	Value float64
}

type Fetcher struct {
	url        string
	httpClient *http.Client
	store      Upserter
	metrics    *metrics.Metrics
	log        logx.Logger
	now        func() time.Time
}

type Option func(*Fetcher)

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.httpClient.Timeout = timeout
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

func New(url string, store Upserter, log logx.Logger, opts ...Option) (*Fetcher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("source url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fetcher{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		store:      store,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch downloads and normalizes the feed. Entries without a caption or with
// a non-numeric value are dropped.
func (f *Fetcher) Fetch(ctx context.Context) ([]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, fmt.Errorf("get feed: unexpected status %s", resp.Status)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return f.normalize(raw), nil
}

type entry struct {
	Caption *string         `json:"caption"`
	Value   json.RawMessage `json:"value"`
}

func (f *Fetcher) normalize(raw map[string]json.RawMessage) []Quote {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	byName := make(map[string]float64, len(raw))
	for _, k := range keys {
		var e entry
		if err := json.Unmarshal(raw[k], &e); err != nil || e.Caption == nil || len(e.Value) == 0 {
			f.log.Debug("skipping malformed feed entry", logx.String("key", k))
			continue
		}
		name := strings.TrimSpace(*e.Caption)
		if name == "" {
			f.log.Debug("skipping feed entry without caption", logx.String("key", k))
			continue
		}
		v, ok := parseNumber(e.Value)
		if !ok {
			f.log.Debug("skipping non-numeric feed value", logx.String("key", k), logx.String("name", name))
			continue
		}
		byName[name] = Scale(name, v)
	}

	out := make([]Quote, 0, len(byName))
	for n, v := range byName {
		out = append(out, Quote{Name: n, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Scale converts a raw feed value to the displayed unit.
func Scale(name string, v float64) float64 {
	if strings.Contains(name, ounceMarker) {
		return v * 10
	}
	return v * 0.1
}

// parseNumber accepts a JSON number or a numeric string ("12,500" allowed).
func parseNumber(b json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return 0, false
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Run fetches once and upserts every quote with one shared timestamp.
// It returns how many rows were written.
func (f *Fetcher) Run(ctx context.Context) (int, error) {
	quotes, err := f.Fetch(ctx)
	if err != nil {
		f.metrics.SourceFetch(err)
		return 0, err
	}
	at := f.now()
	n := 0
	var errs []error
	for _, q := range quotes {
		if err := f.store.Upsert(ctx, q.Name, q.Value, at); err != nil {
			errs = append(errs, fmt.Errorf("upsert %q: %w", q.Name, err))
			continue
		}
		n++
	}
	err = errors.Join(errs...)
	f.metrics.SourceFetch(err)
	if err != nil {
		f.log.Warn("price upsert incomplete", logx.Int("written", n), logx.Int("total", len(quotes)), logx.Err(err))
		return n, err
	}
	f.log.Debug("prices updated", logx.Int("count", n))
	return n, nil
}
