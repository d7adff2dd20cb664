package exchange

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Endpoint is the resolved connect target of a stream.
type Endpoint struct {
	URL string
	// Subscriptions must be sent as SUBSCRIBE payloads after the connection opens.
	Subscriptions []string
}

// URIOptions carries the host overrides from the manager config.
type URIOptions struct {
	StreamBase string
	APIBase    string
	// MaxSubscriptions lowers the exchange cap when positive.
	MaxSubscriptions int
}

// ResolveEndpoint computes the connect URL for intent.
//
// A single subscription is encoded in the path. Two or more connect to the
// bare "/ws" endpoint and are returned for a post-connect SUBSCRIBE. A
// user-data stream connects to "/ws/<listenKey>" and fails when the key is empty.
func ResolveEndpoint(p Profile, intent Intent, listenKey string, opts URIOptions) (Endpoint, error) {
	if intent.API {
		uri := p.APIURI
		if opts.APIBase != "" {
			uri = opts.APIBase
		}
		if uri == "" {
			return Endpoint{}, fmt.Errorf("%w: %s has no websocket api", core.ErrInvalidConfig, p.Name)
		}
		return Endpoint{URL: uri}, nil
	}

	root := strings.TrimSuffix(p.StreamURI, "/")
	if opts.StreamBase != "" {
		root = strings.TrimSuffix(opts.StreamBase, "/")
	}

	subs := intent.Subscriptions(p)
	if err := p.CheckCap(len(subs), opts.MaxSubscriptions); err != nil {
		return Endpoint{}, err
	}

	if intent.IsUserData() && !p.IsDex() {
		if listenKey == "" {
			return Endpoint{}, core.NewStreamError(core.KindListenKey, "user data stream without listen key", nil)
		}
		return Endpoint{URL: root + "/ws/" + url.PathEscape(listenKey), Subscriptions: subs}, nil
	}

	switch len(subs) {
	case 0:
		return Endpoint{URL: root + "/ws"}, nil
	case 1:
		return Endpoint{URL: root + "/ws/" + subs[0]}, nil
	default:
		return Endpoint{URL: root + "/ws", Subscriptions: subs}, nil
	}
}
