package exchange

import (
	"strings"
)

// MaxParamsPerRequest bounds the params of one SUBSCRIBE/UNSUBSCRIBE payload.
const MaxParamsPerRequest = 200

// Control methods of the CEX stream protocol.
const (
	MethodSubscribe         = "SUBSCRIBE"
	MethodUnsubscribe       = "UNSUBSCRIBE"
	MethodListSubscriptions = "LIST_SUBSCRIPTIONS"
)

// ControlRequest is a CEX subscription control frame.
type ControlRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
	ID     int64    `json:"id"`
}

// DexRequest is a BNB Chain DEX subscription control frame.
type DexRequest struct {
	Method  string   `json:"method"`
	Topic   string   `json:"topic"`
	Symbols []string `json:"symbols,omitempty"`
	Address string   `json:"address,omitempty"`
}

// SubscribePayloads builds the payloads that subscribe names on p.
func SubscribePayloads(p Profile, names []string, nextID func() int64) []any {
	return controlPayloads(p, MethodSubscribe, names, nextID)
}

// UnsubscribePayloads builds the payloads that unsubscribe names on p.
func UnsubscribePayloads(p Profile, names []string, nextID func() int64) []any {
	return controlPayloads(p, MethodUnsubscribe, names, nextID)
}

// ListSubscriptionsPayload asks the server for the active subscriptions of a connection.
func ListSubscriptionsPayload(id int64) ControlRequest {
	return ControlRequest{Method: MethodListSubscriptions, ID: id}
}

func controlPayloads(p Profile, method string, names []string, nextID func() int64) []any {
	if len(names) == 0 {
		return nil
	}
	if p.IsDex() {
		return dexPayloads(strings.ToLower(method), names)
	}

	chunks := chunkStreams(names, MaxParamsPerRequest)
	out := make([]any, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, ControlRequest{
			Method: method,
			Params: chunk,
			ID:     nextID(),
		})
	}
	return out
}

// dexPayloads groups "<symbol>@<topic>" names by topic. User topics carry
// the wallet address instead of symbols.
func dexPayloads(method string, names []string) []any {
	var topics []string
	symbols := make(map[string][]string)
	for _, name := range names {
		idx := strings.LastIndex(name, "@")
		if idx <= 0 {
			continue
		}
		market, topic := name[:idx], name[idx+1:]
		if _, ok := symbols[topic]; !ok {
			topics = append(topics, topic)
		}
		symbols[topic] = append(symbols[topic], market)
	}

	var out []any
	for _, topic := range topics {
		if _, user := dexUserTopics[topic]; user {
			for _, address := range symbols[topic] {
				out = append(out, DexRequest{Method: method, Topic: topic, Address: address})
			}
			continue
		}
		out = append(out, DexRequest{Method: method, Topic: topic, Symbols: symbols[topic]})
	}
	return out
}

func chunkStreams(streams []string, size int) [][]string {
	if len(streams) == 0 {
		return nil
	}
	if size <= 0 || len(streams) <= size {
		snapshot := make([]string, len(streams))
		copy(snapshot, streams)
		return [][]string{snapshot}
	}

	chunks := make([][]string, 0, (len(streams)+size-1)/size)
	for start := 0; start < len(streams); start += size {
		end := min(start+size, len(streams))
		chunk := make([]string, end-start)
		copy(chunk, streams[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}
