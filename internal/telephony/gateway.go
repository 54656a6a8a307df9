package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the provider-agnostic surface the lifecycle coordinator and
// the dial entry point drive.
//
// Rules:
// - No provider REST calls outside this package.
// - Request/response types stay provider-agnostic; the coordinator never
//   sees vendor payload shapes.
type Gateway interface {
	// CreateCall originates an outbound call and returns the provider's
	// call identifier (CallSid).
	CreateCall(ctx context.Context, p CreateCallParams) (string, error)

	// RedirectCall swaps the voice instructions of a live call.
	RedirectCall(ctx context.Context, callSid, answerURL string) error

	// TerminateCall marks a live call completed at the provider.
	TerminateCall(ctx context.Context, callSid string) error
}

// CreateCallParams enumerates everything the provider needs to originate.
type CreateCallParams struct {
	To   string
	From string

	// AnswerURL serves the voice-instruction document when the call is
	// answered. StatusWebhookURL receives lifecycle status callbacks.
	AnswerURL        string
	StatusWebhookURL string

	// NativeAMD enables the provider's built-in answering machine
	// detection, reported back through the webhook's AnsweredBy field.
	NativeAMD               bool
	NativeAMDTimeoutSeconds int
}

// DefaultNativeAMDTimeoutSeconds bounds how long the provider listens
// before giving up on its native classification.
const DefaultNativeAMDTimeoutSeconds = 20

// ProviderError is a vendor 4xx rejection. Code 21219 ("unverified
// destination on trial account") gets special user-facing treatment.
type ProviderError struct {
	Code    int
	Message string
	Status  int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("telephony: provider rejected request (code %d): %s", e.Code, e.Message)
}

// AsProviderError unwraps a ProviderError if err carries one.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeUnverifiedTrialDestination is the vendor code for dialing an
// unverified number from a trial account.
const CodeUnverifiedTrialDestination = 21219
