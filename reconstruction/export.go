package reconstruction

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/meshproc"
	"github.com/mejkerslab/questgear3d/pointcloud"
	"github.com/mejkerslab/questgear3d/spatialmath"
)

// Artifact file names, without extension.
const (
	MeshBaseName       = "mesh"
	PreviewBaseName    = "preview"
	TrajectoryBaseName = "trajectory"
	SummaryFile        = "summary.json"
)

// Artifacts lists the files written by Export. Mesh and Preview are empty when the run produced
// no geometry.
type Artifacts struct {
	Dir        string
	Mesh       string
	Preview    string
	Trajectory string
	Summary    string
}

// Export writes the artifacts of res under dir. The trajectory and the summary are always
// written so a run without geometry still leaves a record.
func Export(res *Result, dir string, cfg config.ExportConfig, logger logging.Logger) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating export directory %q", dir)
	}
	a := &Artifacts{Dir: dir}

	if !res.Summary.NoGeometry && !res.Mesh.IsEmpty() {
		a.Mesh = filepath.Join(dir, MeshBaseName+"."+cfg.MeshFormat)
		if err := spatialmath.WriteMeshToFile(res.Mesh, a.Mesh, cfg.PLYBinary); err != nil {
			return nil, errors.Wrap(err, "writing mesh")
		}
		if res.Processed != nil && res.Processed.Preview != nil {
			a.Preview = filepath.Join(dir, PreviewBaseName+"."+cfg.PreviewFormat)
			if err := meshproc.WritePreviewFile(res.Processed.Preview, a.Preview); err != nil {
				return nil, errors.Wrap(err, "writing preview")
			}
		}
	}

	if res.Trajectory != nil {
		a.Trajectory = filepath.Join(dir, TrajectoryBaseName+"."+cfg.TrajectoryFormat)
		if err := pointcloud.WriteToFile(res.Trajectory, a.Trajectory); err != nil {
			return nil, errors.Wrap(err, "writing trajectory")
		}
	}

	if cfg.WriteSummary {
		a.Summary = filepath.Join(dir, SummaryFile)
		if err := WriteSummary(res.Summary, a.Summary); err != nil {
			return nil, errors.Wrap(err, "writing summary")
		}
	}
	logger.Infow("exported artifacts", "dir", dir, "mesh", a.Mesh, "trajectory", a.Trajectory)
	return a, nil
}
