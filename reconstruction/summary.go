package reconstruction

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mejkerslab/questgear3d/capture"
	"github.com/mejkerslab/questgear3d/utils"
)

// Summary accounts for every frame set and view of a run. Per frame failures never abort a run;
// they are counted here.
type Summary struct {
	RunID  uuid.UUID      `json:"run_id"`
	Source string         `json:"source"`
	Format capture.Format `json:"format"`

	FrameSets int `json:"frame_sets"`
	Views     int `json:"views"`

	// Integrated is the number of Integrate calls, one per usable view.
	Integrated int `json:"integrated"`
	Usable     int `json:"usable"`
	// Empty and Degenerate count views dropped by the depth gate after any monocular fallback.
	Empty      int `json:"empty"`
	Degenerate int `json:"degenerate"`
	// MonocularFallbacks counts views integrated with estimated instead of device depth.
	MonocularFallbacks int `json:"monocular_fallbacks"`
	DecodeFailures     int `json:"decode_failures"`
	// PoseFailures counts frame sets, not views: a frame set with a bad head pose is skipped whole.
	PoseFailures int `json:"pose_failures"`

	// NoGeometry is set when nothing was integrated; the run still completes with an empty mesh.
	NoGeometry bool `json:"no_geometry"`
	Vertices   int  `json:"vertices"`
	Triangles  int  `json:"triangles"`

	Duration time.Duration `json:"-"`
	Seconds  float64       `json:"duration_seconds"`
}

// Skipped is the number of frames that contributed nothing: pose failures count once per frame
// set, everything else once per view.
func (s Summary) Skipped() int {
	return s.PoseFailures + s.DecodeFailures + s.Empty + s.Degenerate
}

func (s Summary) String() string {
	return fmt.Sprintf("integrated %d of %d views (%d empty, %d degenerate, %d decode failures, %d pose failures), "+
		"%d triangles in %s", s.Integrated, s.Views, s.Empty, s.Degenerate, s.DecodeFailures, s.PoseFailures,
		s.Triangles, s.Duration.Round(time.Millisecond))
}

// WriteSummary writes s as indented JSON.
func WriteSummary(s Summary, path string) error {
	s.Seconds = s.Duration.Seconds()
	return utils.WriteFileAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	})
}
