package exchange

import (
	"fmt"
	"strings"
	"sync"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Container is a thread-safe registry of exchange profiles that are not
// built in, e.g. private relays or a local test server.
type Container struct {
	mu       sync.RWMutex
	profiles map[Name]Profile
}

// NewContainer creates and returns a new empty profile container.
func NewContainer() *Container {
	return &Container{
		profiles: make(map[Name]Profile),
	}
}

// Register adds a profile under name. Built-in names cannot be shadowed and
// a profile needs at least a stream URI.
func (c *Container) Register(name string, p Profile) error {
	n := Name(strings.TrimSpace(name))
	if n == "" {
		return fmt.Errorf("%w: empty exchange name", core.ErrInvalidConfig)
	}
	if _, builtin := profiles[n]; builtin {
		return fmt.Errorf("%w: %q is a built-in exchange", core.ErrInvalidConfig, n)
	}
	if p.StreamURI == "" {
		return fmt.Errorf("%w: exchange %q has no stream uri", core.ErrInvalidConfig, n)
	}
	p.Name = n

	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[n] = p
	return nil
}

// Get retrieves a registered profile by name.
func (c *Container) Get(name string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, exists := c.profiles[Name(strings.TrimSpace(name))]
	return p, exists
}

// Names returns the registered names, unsorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, string(name))
	}
	return names
}

func (c *Container) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, Name(strings.TrimSpace(name)))
}

// Registry holds the custom profiles Lookup falls back to.
var Registry = NewContainer()

// Register adds a custom profile to Registry.
func Register(name string, p Profile) error {
	return Registry.Register(name, p)
}
