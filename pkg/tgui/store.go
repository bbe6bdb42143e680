package tgui

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"sync"
	"time"
)

const (
	defaultTokenTTL = 15 * time.Minute
	defaultTokenMax = 5000
	sweepEvery      = time.Minute
)

// TokenStore keeps callback payloads too large for callback_data in memory
// for a limited time. A payload always maps to the same token, so rendering
// a keyboard again refreshes the tokens already on screen instead of minting
// new ones. Tokens are "~" plus base64url and never contain ':'. When full,
// the least recently stored token is dropped first.
type TokenStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	max       int
	items     map[string]parked
	order     []queued // oldest first; stale entries are skipped
	seq       uint64
	lastSweep time.Time
}

type parked struct {
	val     string
	expires time.Time
	seq     uint64
}

type queued struct {
	tok string
	seq uint64
}

func NewTokenStore() *TokenStore {
	return &TokenStore{ttl: defaultTokenTTL, max: defaultTokenMax, items: map[string]parked{}}
}

// WithTTL sets how long a token resolves. Non-positive values keep the default.
func (s *TokenStore) WithTTL(ttl time.Duration) *TokenStore {
	if ttl > 0 {
		s.mu.Lock()
		s.ttl = ttl
		s.mu.Unlock()
	}
	return s
}

// WithMax caps the number of live tokens.
func (s *TokenStore) WithMax(n int) *TokenStore {
	if n > 0 {
		s.mu.Lock()
		s.max = n
		s.mu.Unlock()
	}
	return s
}

// PutString parks v and returns its token, extending the token's lifetime
// when v is already parked.
func (s *TokenStore) PutString(v string) string {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	tok := tokenFor(v, 0)
	for salt := 1; ; salt++ {
		p, taken := s.items[tok]
		if !taken || p.val == v {
			break
		}
		tok = tokenFor(v, salt)
	}

	s.seq++
	s.items[tok] = parked{val: v, expires: now.Add(s.ttl), seq: s.seq}
	s.order = append(s.order, queued{tok: tok, seq: s.seq})

	for len(s.items) > s.max && len(s.order) > 0 {
		q := s.order[0]
		s.order = s.order[1:]
		if p, ok := s.items[q.tok]; ok && p.seq == q.seq {
			delete(s.items, q.tok)
		}
	}
	return tok
}

func (s *TokenStore) GetString(tok string) (string, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	p, ok := s.items[tok]
	if !ok {
		return "", false
	}
	if now.After(p.expires) {
		delete(s.items, tok)
		return "", false
	}
	return p.val, true
}

// Len counts stored tokens, including expired ones not yet swept.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// sweepLocked drops expired tokens and stale queue entries.
func (s *TokenStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepEvery {
		return
	}
	s.lastSweep = now
	live := s.order[:0]
	for _, q := range s.order {
		p, ok := s.items[q.tok]
		if !ok || p.seq != q.seq {
			continue
		}
		if now.After(p.expires) {
			delete(s.items, q.tok)
			continue
		}
		live = append(live, q)
	}
	s.order = live
}

func tokenFor(v string, salt int) string {
	h := sha256.New()
	h.Write([]byte(v))
	if salt > 0 {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(salt)))
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:6])
}
