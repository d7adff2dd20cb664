package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// KeyRing holds the API key pairs in use by streams, keyed by stream id.
// Keys are never rendered in clear text unless showSecrets is set.
type KeyRing struct {
	mu          sync.RWMutex
	keys        map[string]*APIKey
	showSecrets bool
}

type APIKey struct {
	ID         string
	Key        string
	Secret     string
	Disabled   bool
	LastUsed   time.Time
	ErrorCount int

	showSecrets bool
}

func NewKeyRing(showSecrets bool) *KeyRing {
	return &KeyRing{
		keys:        make(map[string]*APIKey),
		showSecrets: showSecrets,
	}
}

// Add stores a copy of the key pair under id, replacing any previous entry.
func (k *KeyRing) Add(id, key, secret string) *APIKey {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry := &APIKey{
		ID:          id,
		Key:         key,
		Secret:      secret,
		showSecrets: k.showSecrets,
	}
	k.keys[id] = entry
	return entry.clone()
}

// Get returns a copy of the key pair stored under id.
func (k *KeyRing) Get(id string) (*APIKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entry, ok := k.keys[id]
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

func (k *KeyRing) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, id)
}

func (k *KeyRing) MarkUsed(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if entry, ok := k.keys[id]; ok {
		entry.LastUsed = time.Now()
	}
}

// OnError counts a failure against the key. A rejected key is disabled.
func (k *KeyRing) OnError(id string, rejected bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.keys[id]
	if !ok {
		return
	}
	entry.ErrorCount++
	if rejected {
		entry.Disabled = true
	}
}

func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// Disabled returns the number of keys the exchange rejected.
func (k *KeyRing) Disabled() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	n := 0
	for _, entry := range k.keys {
		if entry.Disabled {
			n++
		}
	}
	return n
}

func (k *APIKey) clone() *APIKey {
	c := *k
	return &c
}

func (k *APIKey) String() string {
	return fmt.Sprintf("APIKey{ID:%s, Key:%s}", k.ID, Redact(k.Key, k.showSecrets))
}

// MarshalZerologObject renders the key pair for structured logs.
func (k *APIKey) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", k.ID).
		Str("api_key", Redact(k.Key, k.showSecrets)).
		Str("api_secret", Redact(k.Secret, k.showSecrets))
}

// Redact returns s unchanged when show is set and a masked form otherwise.
func Redact(s string, show bool) string {
	if show {
		return s
	}
	return maskKey(s)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
