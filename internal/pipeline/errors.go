package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a step of a run.
type Stage string

const (
	StageSelect  Stage = "select"
	StageFetch   Stage = "fetch"
	StageMosaic  Stage = "mosaic"
	StageWrite   Stage = "write"
	StagePublish Stage = "publish"
)

// ErrNothingSelected means no site had a volume within the look-back window.
var ErrNothingSelected = errors.New("no volumes found in the look-back window")

// StageError attributes a run failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
