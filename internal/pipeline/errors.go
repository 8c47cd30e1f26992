package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a point in the life of one image. An Outcome reports the
// last stage reached; a StageError names the stage that was not reached.
type Stage string

const (
	StageReceived         Stage = "received"
	StageDecoded          Stage = "decoded"
	StageEnhanced         Stage = "enhanced"
	StageUploaded         Stage = "uploaded"
	StageAnalyzed         Stage = "analyzed"
	StageCategoryResolved Stage = "category_resolved"
	StagePersisted        Stage = "persisted"
)

// Kind classifies a failure for callers and operators.
type Kind string

const (
	// KindClientInput: the submitted image is unusable. Not retried.
	KindClientInput Kind = "client_input"
	// KindCollaborator: an external service failed after retries.
	KindCollaborator Kind = "collaborator"
	// KindDataIntegrity: reference data is missing or a record could not
	// be written consistently.
	KindDataIntegrity Kind = "data_integrity"
	// KindDefect: a bug or an impossible value.
	KindDefect Kind = "defect"
)

type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a *StageError.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
