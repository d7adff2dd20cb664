package keyring

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "****"},
		{"short", "****"},
		{"12345678", "****"},
		{"vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A", "vmPU****Eh8A"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, maskKey(tt.in))
	}
}

func TestKeyRing_AddGetRemove(t *testing.T) {
	ring := NewKeyRing(false)

	added := ring.Add("stream-1", "abcdefghijkl", "secretsecret")
	added.Key = "mutated"

	got, ok := ring.Get("stream-1")
	require.True(t, ok)
	assert.Equal(t, "abcdefghijkl", got.Key, "returned copies do not alias")
	assert.Equal(t, 1, ring.Len())

	ring.MarkUsed("stream-1")
	got, _ = ring.Get("stream-1")
	assert.False(t, got.LastUsed.IsZero())

	ring.Remove("stream-1")
	_, ok = ring.Get("stream-1")
	assert.False(t, ok)
	assert.Equal(t, 0, ring.Len())
}

func TestKeyRing_OnError(t *testing.T) {
	ring := NewKeyRing(false)
	ring.Add("a", "key-a-1234567", "secret")
	ring.Add("b", "key-b-1234567", "secret")

	ring.OnError("a", false)
	ring.OnError("b", true)
	ring.OnError("missing", true)

	a, _ := ring.Get("a")
	b, _ := ring.Get("b")
	assert.Equal(t, 1, a.ErrorCount)
	assert.False(t, a.Disabled)
	assert.True(t, b.Disabled)
	assert.Equal(t, 1, ring.Disabled())
}

func TestAPIKey_Redaction(t *testing.T) {
	hidden := NewKeyRing(false).Add("s", "abcd1234efgh5678", "topsecretvalue99")
	shown := NewKeyRing(true).Add("s", "abcd1234efgh5678", "topsecretvalue99")

	assert.Equal(t, "APIKey{ID:s, Key:abcd****5678}", hidden.String())
	assert.Equal(t, "APIKey{ID:s, Key:abcd1234efgh5678}", shown.String())

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Object("credentials", hidden).Msg("x")
	assert.NotContains(t, buf.String(), "topsecretvalue99")
	assert.Contains(t, buf.String(), "tops****ue99")

	buf.Reset()
	logger.Info().Object("credentials", shown).Msg("x")
	assert.Contains(t, buf.String(), "topsecretvalue99")
}
