package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// SignatureParam is the parameter that carries the request signature.
const SignatureParam = "signature"

// QueryString formats params as "k1=v1&k2=v2..." sorted by key. The
// signature parameter, if present, is left out.
func QueryString(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatValue(params[k]))
	}
	return b.String()
}

// Sign returns the hex HMAC-SHA256 of the sorted query string of params.
func Sign(params map[string]any, secret string) string {
	return signHMAC(QueryString(params), secret)
}

// FormatValue renders a parameter value the way it appears in the signed payload.
func FormatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case apd.Decimal:
		return val.Text('f')
	case *apd.Decimal:
		return val.Text('f')
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func signHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Clock returns exchange time: local wall time adjusted by the measured
// server offset.
type Clock struct {
	offset atomic.Int64
	now    func() time.Time
}

// NewClock creates a clock with zero offset.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// SetOffset sets the server minus local time difference.
func (c *Clock) SetOffset(d time.Duration) {
	c.offset.Store(int64(d))
}

// Offset returns the server minus local time difference.
func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// Now returns the estimated exchange time.
func (c *Clock) Now() time.Time {
	return c.now().Add(c.Offset())
}

// Millis returns the estimated exchange time in epoch milliseconds.
func (c *Clock) Millis() int64 {
	return c.Now().UnixMilli()
}

// Observe records a server time sample taken between sentAt and receivedAt.
func (c *Clock) Observe(serverMillis int64, sentAt, receivedAt time.Time) time.Duration {
	mid := sentAt.Add(receivedAt.Sub(sentAt) / 2)
	offset := time.UnixMilli(serverMillis).Sub(mid)
	c.SetOffset(offset)
	return offset
}

// APIRequest is a WS-API call frame.
type APIRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// NewAPIRequest creates a WS-API request with a fresh UUID id.
func NewAPIRequest(method string, params map[string]any) APIRequest {
	p := make(map[string]any, len(params)+3)
	for k, v := range params {
		p[k] = v
	}
	return APIRequest{
		ID:     uuid.NewString(),
		Method: method,
		Params: p,
	}
}

// Sign adds apiKey, timestamp and signature to the request params.
func (r *APIRequest) Sign(creds core.Credentials, clock *Clock) error {
	if creds.APIKey == "" || creds.APISecret == "" {
		return fmt.Errorf("sign %s: %w", r.Method, core.ErrNoCredentials)
	}
	if r.Params == nil {
		r.Params = make(map[string]any, 3)
	}
	r.Params["apiKey"] = creds.APIKey
	if clock == nil {
		clock = NewClock()
	}
	r.Params["timestamp"] = clock.Millis()
	r.Params[SignatureParam] = Sign(r.Params, creds.APISecret)
	return nil
}

// ClassifyCode maps a Binance error code to an error type.
func ClassifyCode(code int) core.ErrorType {
	switch code {
	case core.CodeTooManyRequests, core.CodeTooManyMessages:
		return core.ErrorTypeRateLimit
	case core.CodeInvalidSignature, core.CodeInvalidAPIKeyID, core.CodeAPIKeyFormatInvalid, core.CodeRejectedMBXKey:
		return core.ErrorTypeAuthentication
	case core.CodeIsolatedMarginNotFound:
		return core.ErrorTypeNotFound
	default:
		if code <= -1100 && code > -1200 {
			return core.ErrorTypeBadRequest
		}
		if code <= -1000 && code > -1100 {
			return core.ErrorTypeServerError
		}
		return core.ErrorTypeUnknown
	}
}
