package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter indicates a request field outside its domain.
	ErrInvalidParameter = errors.New("synth: invalid parameter")
	// ErrUnsupportedMode indicates a mode outside Single, Multi and Sweep.
	ErrUnsupportedMode = errors.New("synth: unsupported mode")
	// ErrUnsupportedWaveform indicates a waveform outside the closed set.
	ErrUnsupportedWaveform = errors.New("synth: unsupported waveform")
)

// ParamError describes which request field failed validation.
// It matches ErrInvalidParameter (and Err, when set) with errors.Is.
type ParamError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("synth: invalid %s: %s", e.Field, e.Reason)
}

func (e *ParamError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidParameter, e.Err}
	}
	return []error{ErrInvalidParameter}
}

func invalid(field, format string, args ...any) error {
	return &ParamError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsRequestError reports whether err was caused by the caller's request
// rather than by the environment.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrUnsupportedMode) ||
		errors.Is(err, ErrUnsupportedWaveform)
}
