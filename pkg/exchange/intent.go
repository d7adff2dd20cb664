package exchange

import (
	"slices"
	"strings"
)

// UserDataMarker is the market or channel name that selects a user-data stream.
const UserDataMarker = "!userData"

var dexUserTopics = map[string]struct{}{
	"orders":    {},
	"accounts":  {},
	"transfers": {},
}

// Intent is what a stream is asked to receive.
type Intent struct {
	Channels []string `json:"channels"`
	Markets  []string `json:"markets"`
	// Symbols carries the isolated-margin symbol of a user-data stream.
	Symbols []string `json:"symbols,omitempty"`
	// API selects WS-API request/response mode instead of subscriptions.
	API bool `json:"api"`
}

// Clone returns a deep copy of the intent.
func (i Intent) Clone() Intent {
	return Intent{
		Channels: slices.Clone(i.Channels),
		Markets:  slices.Clone(i.Markets),
		Symbols:  slices.Clone(i.Symbols),
		API:      i.API,
	}
}

// IsUserData reports whether the intent asks for the user-data stream.
func (i Intent) IsUserData() bool {
	return slices.Contains(i.Markets, UserDataMarker) || slices.Contains(i.Channels, UserDataMarker)
}

// Symbol returns the first symbol, or "" if none is set.
func (i Intent) Symbol() string {
	if len(i.Symbols) == 0 {
		return ""
	}
	return i.Symbols[0]
}

// Merge adds channels and markets not already present and returns the new intent.
func (i Intent) Merge(channels, markets []string) Intent {
	out := i.Clone()
	out.Channels = appendUnique(out.Channels, channels)
	out.Markets = appendUnique(out.Markets, markets)
	return out
}

// Remove drops the given channels and markets and returns the new intent.
func (i Intent) Remove(channels, markets []string) Intent {
	out := i.Clone()
	out.Channels = slices.DeleteFunc(out.Channels, func(s string) bool { return slices.Contains(channels, s) })
	out.Markets = slices.DeleteFunc(out.Markets, func(s string) bool { return slices.Contains(markets, s) })
	return out
}

// Subscriptions flattens channels × markets into stream names for p.
//
// Names are "<market>@<channel>" with the market lowercased unless it starts
// with "!" or the exchange is the DEX. An empty channel or market set yields
// no subscriptions. The user-data marker is never part of the result.
func (i Intent) Subscriptions(p Profile) []string {
	if i.API {
		return nil
	}
	channels := withoutMarker(i.Channels)
	markets := withoutMarker(i.Markets)

	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, c := range channels {
		for _, m := range markets {
			add(formatMarket(p, m) + "@" + c)
		}
	}
	return out
}

// Diff returns the stream names of next that are missing in prev.
func Diff(prev, next []string) []string {
	var out []string
	for _, s := range next {
		if !slices.Contains(prev, s) {
			out = append(out, s)
		}
	}
	return out
}

func formatMarket(p Profile, market string) string {
	if strings.HasPrefix(market, "!") || p.IsDex() {
		return market
	}
	return strings.ToLower(market)
}

func withoutMarker(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || s == UserDataMarker {
			continue
		}
		out = append(out, s)
	}
	return out
}

func appendUnique(dst, src []string) []string {
	for _, s := range src {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
