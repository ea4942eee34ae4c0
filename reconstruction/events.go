package reconstruction

import "fmt"

// EventKind distinguishes run events.
type EventKind int

// The run event kinds.
const (
	// EventStarted is emitted once the capture is loaded; Total is the number of frame sets.
	EventStarted EventKind = iota
	// EventProgress is emitted after every frame set with a monotonically increasing Processed.
	EventProgress
	// EventFrameSkipped is emitted for every view that was not integrated.
	EventFrameSkipped
	// EventFinished is emitted after the mesh has been extracted and post processed.
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventFrameSkipped:
		return "frame_skipped"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event reports run progress. FrameIndex, CameraID and Reason are only set for
// EventFrameSkipped.
type Event struct {
	Kind       EventKind
	Processed  int
	Total      int
	FrameIndex int
	CameraID   string
	Reason     string
}

// EventHandler receives events synchronously on the run's goroutine.
type EventHandler func(Event)
