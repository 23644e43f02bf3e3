package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// KeyPrefix marks callback data that refers to a stored selection token.
const KeyPrefix = "s:"

type selectionEntry struct {
	token   string
	expires time.Time
}

// Selections keeps full selection tokens under short keys. Telegram caps
// callback data at 64 bytes, which a title plus a URL easily exceeds.
type Selections struct {
	mu    sync.Mutex
	items map[string]selectionEntry
	ttl   time.Duration
	now   func() time.Time
}

func NewSelections(ttl time.Duration) *Selections {
	return &Selections{items: make(map[string]selectionEntry), ttl: ttl, now: time.Now}
}

// Put stores token and returns its key. The same token always maps to the
// same key.
func (s *Selections) Put(token string) string {
	sum := sha256.Sum256([]byte(token))
	key := KeyPrefix + hex.EncodeToString(sum[:12])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = selectionEntry{token: token, expires: s.now().Add(s.ttl)}
	return key
}

// Resolve returns the token stored under key.
func (s *Selections) Resolve(key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", &TokenError{Token: key, Reason: "not a selection key"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return "", &TokenError{Token: key, Reason: "unknown selection"}
	}
	if s.ttl > 0 && s.now().After(e.expires) {
		delete(s.items, key)
		return "", &TokenError{Token: key, Reason: "selection expired"}
	}
	return e.token, nil
}

// Sweep drops expired entries.
func (s *Selections) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.items {
		if now.After(e.expires) {
			delete(s.items, k)
			n++
		}
	}
	return n
}
