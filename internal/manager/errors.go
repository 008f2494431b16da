package manager

import (
	"errors"

	"hochat/internal/loader"
)

var (
	// ErrNoEngine is returned by SendMessage before a model is loaded.
	ErrNoEngine = errors.New("no model loaded")
	// ErrImagesUnsupported rejects images for a model without vision.
	ErrImagesUnsupported = errors.New("the selected model does not accept images")
	// ErrEmptyMessage rejects a message with neither text nor images.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrConversationNotFound reports an unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrLoadCanceled is returned by a load that was canceled; its text is
	// the notice shown after CancelLoad.
	ErrLoadCanceled = loader.ErrLoadCanceled
)

// busyError signals that another generation or load owns the controller.
type busyError struct{ op string }

func (e busyError) Error() string { return "busy: " + e.op + " in progress" }

// IsBusy reports whether err means the request conflicts with running work.
func IsBusy(err error) bool {
	var b busyError
	return errors.As(err, &b)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for a model id missing from the catalog.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var m modelNotFoundError
	return errors.As(err, &m)
}

type duplicateModelError struct{ id string }

func (e duplicateModelError) Error() string { return "a model with id " + e.id + " already exists" }

// IsDuplicateModel reports whether AddCustomModel was given a taken id.
func IsDuplicateModel(err error) bool {
	var d duplicateModelError
	return errors.As(err, &d)
}

// capabilityError means the inference runtime is absent. It is reported to
// the user, never treated as fatal.
type capabilityError struct{ err error }

func (e capabilityError) Error() string { return "inference runtime unavailable: " + e.err.Error() }
func (e capabilityError) Unwrap() error { return e.err }

// IsCapabilityUnavailable reports whether err comes from a missing runtime.
func IsCapabilityUnavailable(err error) bool {
	var c capabilityError
	return errors.As(err, &c)
}
