package bundle

import (
	"errors"
	"fmt"
	"strings"
)

type Phase string

const (
	PhaseDeserialization Phase = "deserialization"
	PhaseAnnotation      Phase = "annotation"
	PhaseBuilding        Phase = "building"
	PhaseWriting         Phase = "writing"
)

// PhaseError tags a pipeline failure with the stage that raised it.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Wrap tags err with phase unless it already carries one.
func Wrap(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	var pe *PhaseError
	if errors.As(err, &pe) {
		return err
	}
	return &PhaseError{Phase: phase, Err: err}
}

func PhaseOf(err error) (Phase, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase, true
	}
	return "", false
}

// Traceback renders err for display on the owning record, e.g.
// "Deserialization error: unknown predictor in model: rt".
func Traceback(err error) string {
	if err == nil {
		return ""
	}
	title := "Unknown"
	msg := err.Error()
	var pe *PhaseError
	if errors.As(err, &pe) {
		if p := string(pe.Phase); p != "" {
			title = strings.ToUpper(p[:1]) + p[1:]
		}
		msg = pe.Err.Error()
	}
	return fmt.Sprintf("%s error: %s", title, msg)
}
