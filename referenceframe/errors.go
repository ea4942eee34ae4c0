package referenceframe

import (
	"fmt"

	"github.com/pkg/errors"
)

// PoseErrorKind classifies a pose failure.
type PoseErrorKind int

// InvalidPose is the only pose failure kind: the frame set is skipped.
const InvalidPose PoseErrorKind = iota

// ErrInvalidPose is matched by every *PoseError through errors.Is.
var ErrInvalidPose = errors.New("invalid pose")

// PoseError reports a frame set whose head pose cannot be used. Views is the number of camera
// views skipped with it.
type PoseError struct {
	Kind       PoseErrorKind
	FrameIndex int
	Views      int
	Reason     string
}

func (e *PoseError) Error() string {
	return fmt.Sprintf("invalid pose for frame %d (%d views): %s", e.FrameIndex, e.Views, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidPose) succeed.
func (e *PoseError) Is(target error) bool {
	return target == ErrInvalidPose
}

func newInvalidPoseError(set FrameSet, reason string) error {
	return &PoseError{Kind: InvalidPose, FrameIndex: set.Index, Views: len(set.Views), Reason: reason}
}
