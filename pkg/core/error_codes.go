package core

import "errors"

// Binance error codes the stream manager reacts to.
const (
	// CodeTooManyRequests is sent when the request weight limit was exceeded.
	CodeTooManyRequests = -1003
	// CodeTooManyMessages is sent when more than the allowed messages per second were sent.
	CodeTooManyMessages = -1015
	// CodeInvalidSignature is sent when the request signature does not verify.
	CodeInvalidSignature = -1022
	// CodeMandatoryParamMissing is sent when a mandatory parameter was empty or malformed.
	CodeMandatoryParamMissing = -1102
	// CodeInvalidAPIKeyID is sent for an unknown API key id.
	CodeInvalidAPIKeyID = -2008
	// CodeAPIKeyFormatInvalid is sent for a malformed API key.
	CodeAPIKeyFormatInvalid = -2014
	// CodeRejectedMBXKey is sent when the API key, source IP or permissions were rejected.
	CodeRejectedMBXKey = -2015
	// CodeIsolatedMarginNotFound is sent when the isolated margin pair does not exist.
	CodeIsolatedMarginNotFound = -11001
)

// WebSocket close codes with a defined meaning for restart decisions.
const (
	CloseNormal          = 1000
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
)

var unrepairableCodes = map[int]struct{}{
	CodeMandatoryParamMissing:  {},
	CodeInvalidAPIKeyID:        {},
	CodeAPIKeyFormatInvalid:    {},
	CodeRejectedMBXKey:         {},
	CodeIsolatedMarginNotFound: {},
}

// IsUnrepairableCode reports whether an exchange code needs human action.
func IsUnrepairableCode(code int) bool {
	_, ok := unrepairableCodes[code]
	return ok
}

// KindForCloseCode classifies a WebSocket close code.
func KindForCloseCode(code int) Kind {
	if code == ClosePolicyViolation {
		return KindProtocolFatal
	}
	return KindTransient
}

// IsErrorCode checks if err carries the given exchange error code.
func IsErrorCode(err error, code int) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Code == code
	}
	var sErr *StreamError
	if errors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
