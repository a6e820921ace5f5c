package reliability

import (
	"context"
	"errors"
)

// KindForStatus maps an upstream HTTP status to an error kind.
// Callers decide how 400-class format rejections are reported.
func KindForStatus(code int) Kind {
	switch {
	case code == 401 || code == 403:
		return KindUnauthorized
	case code == 429:
		return KindRateLimited
	case code == 400 || code == 415:
		return KindMalformedAudio
	default:
		return KindServiceError
	}
}

// ClassifyTransport turns a transport-level failure into a typed error.
// Context cancellation is reported as KindCancelled, everything else as a
// network failure.
func ClassifyTransport(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCancelled, "", err)
	}
	return Wrap(KindNetworkFailure, msg, err)
}

// Retryable reports whether a user retrying the same action may succeed.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindNetworkFailure, KindServiceError, KindNoSpeechDetected, KindNothingCaptured, KindCancelled:
		return true
	default:
		return false
	}
}
