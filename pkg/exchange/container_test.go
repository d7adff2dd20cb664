package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

func TestContainer(t *testing.T) {
	c := NewContainer()
	relay := Profile{MarketType: core.MarketTypeSpot, StreamURI: "wss://relay.local", MaxSubscriptions: 10}

	t.Run("register and get", func(t *testing.T) {
		require.NoError(t, c.Register(" relay.local ", relay))

		p, ok := c.Get("relay.local")
		require.True(t, ok)
		assert.Equal(t, Name("relay.local"), p.Name)
		assert.Equal(t, "wss://relay.local", p.StreamURI)
		assert.Equal(t, []string{"relay.local"}, c.Names())
	})

	t.Run("rejects invalid profiles", func(t *testing.T) {
		tests := []struct {
			name    string
			exName  string
			profile Profile
		}{
			{"empty name", " ", relay},
			{"built-in name", string(BinanceCom), relay},
			{"no stream uri", "other", Profile{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := c.Register(tt.exName, tt.profile)
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
			})
		}
	})

	t.Run("unregister", func(t *testing.T) {
		c.Unregister("relay.local")
		_, ok := c.Get("relay.local")
		assert.False(t, ok)
		assert.Empty(t, c.Names())
	})
}

func TestLookup_Registry(t *testing.T) {
	require.NoError(t, Register("relay.test", Profile{StreamURI: "wss://relay.test", MaxSubscriptions: 5}))
	t.Cleanup(func() { Registry.Unregister("relay.test") })

	p, err := Lookup("relay.test")
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxSubscriptions)
	assert.Contains(t, Names(), "relay.test")

	_, err = Lookup("nowhere")
	assert.ErrorIs(t, err, core.ErrUnknownExchange)
}
