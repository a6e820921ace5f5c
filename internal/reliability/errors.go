package reliability

import "errors"

// Kind names a failure category shared by capture, transcription and reply
// generation.
type Kind string

const (
	KindPermissionDenied  Kind = "permission_denied"
	KindDeviceUnavailable Kind = "device_unavailable"
	KindNothingCaptured   Kind = "nothing_captured"
	KindUnconfigured      Kind = "unconfigured"
	KindUnauthorized      Kind = "unauthorized"
	KindRateLimited       Kind = "rate_limited"
	KindMalformedAudio    Kind = "malformed_audio"
	KindNoSpeechDetected  Kind = "no_speech_detected"
	KindNetworkFailure    Kind = "network_failure"
	KindServiceError      Kind = "service_error"
	KindGeneratorFailure  Kind = "generator_failure"
	KindCancelled         Kind = "cancelled"
)

var defaultMessages = map[Kind]string{
	KindPermissionDenied:  "Microphone access denied. Please allow microphone access to use voice chat.",
	KindDeviceUnavailable: "No microphone is available on this device.",
	KindNothingCaptured:   "No audio was recorded. Please try again.",
	KindUnconfigured:      "The service is not configured. Please set the API key.",
	KindUnauthorized:      "Invalid API key. Please check your configuration.",
	KindRateLimited:       "Rate limit exceeded. Please try again later.",
	KindMalformedAudio:    "Invalid audio format. Please try recording again.",
	KindNoSpeechDetected:  "No speech detected. Please try speaking more clearly.",
	KindNetworkFailure:    "Network error. Please check your connection and try again.",
	KindServiceError:      "The service returned an unexpected error.",
	KindGeneratorFailure:  "Failed to generate AI response",
	KindCancelled:         "Cancelled.",
}

// DefaultMessage returns the user-facing text for a kind.
func DefaultMessage(kind Kind) string {
	if msg, ok := defaultMessages[kind]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

// Error is a typed failure carrying a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return DefaultMessage(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind of err, or "" when err is not typed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
