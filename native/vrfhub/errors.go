package vrfhub

import "errors"

// Admission errors reject a single message or call without touching state.
var (
	ErrPaused             = errors.New("vrfhub: hub paused")
	ErrUnsupportedChain   = errors.New("vrfhub: origin chain not supported")
	ErrInvalidPeer        = errors.New("vrfhub: sender is not the registered peer")
	ErrUnauthorizedCaller = errors.New("vrfhub: caller not authorized")
	ErrDuplicateSequence  = errors.New("vrfhub: sequence already processed")
	ErrMalformedPayload   = errors.New("vrfhub: malformed payload")
)

// Provider errors abort the call before any request row is written.
var (
	ErrProviderUnavailable = errors.New("vrfhub: randomness provider request failed")
	ErrRequestExists       = errors.New("vrfhub: provider reused a request id")
)

// Fulfillment and delivery errors.
var (
	ErrRequestNotFound   = errors.New("vrfhub: request not found")
	ErrAlreadyFulfilled  = errors.New("vrfhub: request already fulfilled")
	ErrNotPending        = errors.New("vrfhub: sequence is not pending")
	ErrAlreadySent       = errors.New("vrfhub: response already sent")
	ErrInsufficientFunds = errors.New("vrfhub: insufficient balance for messaging fee")
	ErrQuoteFailed       = errors.New("vrfhub: fee quote failed")
	ErrSendFailed        = errors.New("vrfhub: transport send failed")
)

// Configuration errors.
var (
	ErrInvalidChain  = errors.New("vrfhub: invalid chain")
	ErrInvalidPrice  = errors.New("vrfhub: invalid price report")
	ErrInvalidAmount = errors.New("vrfhub: invalid amount")
	ErrNotConfigured = errors.New("vrfhub: hub not configured")
)

// IsAdmissionError reports whether err rejected a message before admission.
func IsAdmissionError(err error) bool {
	for _, target := range []error{
		ErrPaused,
		ErrUnsupportedChain,
		ErrInvalidPeer,
		ErrUnauthorizedCaller,
		ErrDuplicateSequence,
		ErrMalformedPayload,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
