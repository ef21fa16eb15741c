package embedding

import (
	"errors"
	"fmt"

	"github.com/RyanBlaney/sonido-embed/transcode"
)

var (
	// ErrEmptyInput is returned for zero-length audio or an empty embedding matrix
	ErrEmptyInput = errors.New("empty audio input")

	// ErrDecode is returned when an input file cannot be read or decoded
	ErrDecode = transcode.ErrDecode
)

// ParameterError reports an invalid or contradictory configuration. It is a
// caller bug rather than a data problem, so batch runs abort on it.
type ParameterError struct {
	Param   string
	Message string
}

func (e *ParameterError) Error() string {
	if e.Param == "" {
		return "invalid parameter: " + e.Message
	}
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Message)
}

func paramErrorf(param, format string, args ...any) error {
	return &ParameterError{Param: param, Message: fmt.Sprintf(format, args...)}
}

// IsParameterError reports whether err wraps a *ParameterError
func IsParameterError(err error) bool {
	var pe *ParameterError
	return errors.As(err, &pe)
}

// WarningKind classifies non-fatal conditions found during extraction
type WarningKind string

const (
	WarnShortAudio  WarningKind = "short_audio"
	WarnSilentAudio WarningKind = "silent_audio"
)

// Warning is a non-fatal condition. Extraction still produces output.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Message
}
