package tsdf

import (
	"fmt"

	"github.com/pkg/errors"
)

// IntegrationErrorKind classifies a failure that aborts integration.
type IntegrationErrorKind int

// VolumeCapacityExceeded means the volume needed more blocks than its fixed capacity.
const VolumeCapacityExceeded IntegrationErrorKind = iota

// ErrVolumeCapacityExceeded is matched by capacity failures through errors.Is.
var ErrVolumeCapacityExceeded = errors.New("volume capacity exceeded")

// IntegrationError aborts the run; the volume must be discarded.
type IntegrationError struct {
	Kind     IntegrationErrorKind
	Needed   int
	Capacity int
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("volume capacity exceeded: need %d blocks, capacity is %d", e.Needed, e.Capacity)
}

// Is makes errors.Is(err, ErrVolumeCapacityExceeded) succeed.
func (e *IntegrationError) Is(target error) bool {
	return e.Kind == VolumeCapacityExceeded && target == ErrVolumeCapacityExceeded
}
