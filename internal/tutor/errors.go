package tutor

import "errors"

var (
	// ErrNoModelsAvailable means the model backend lists no installed models.
	// Callers should redirect the learner to the model-acquisition flow.
	ErrNoModelsAvailable = errors.New("no models available")
	// ErrModelUnavailable wraps failures of the model backend, before or during a stream.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInvalidNavigation is returned for navigation over an empty exercise set.
	ErrInvalidNavigation = errors.New("invalid navigation: empty exercise set")
	// ErrStreamInFlight rejects a second concurrent streaming request.
	ErrStreamInFlight = errors.New("a streaming request is already in flight")
	// ErrUnknownModel rejects a model that is not currently installed.
	ErrUnknownModel = errors.New("unknown model")
	// ErrEmptyHistory rejects a streaming request without messages.
	ErrEmptyHistory = errors.New("message history is empty")
	// ErrEmptyMessage rejects a blank chat message.
	ErrEmptyMessage = errors.New("message is required")
	// ErrPlaybackRunning rejects a manual tick while playback advances on its own.
	ErrPlaybackRunning = errors.New("playback is running")
	// ErrWrongMode rejects an interaction the session's operating mode does not support.
	ErrWrongMode = errors.New("operation not supported in this mode")
)
