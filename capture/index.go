package capture

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/utils"
)

// IndexVersion is written into every canonical index.
const IndexVersion = "1"

// Index is the normalized, format independent description of a capture. Frames are ordered by
// frame index; views of one instant are adjacent.
type Index struct {
	Version    string                             `json:"version"`
	Source     string                             `json:"source"`
	Format     Format                             `json:"format"`
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
	Frames     []Frame                            `json:"frames"`

	// Root is the capture directory. Frame paths are absolute in memory and relative to Root on
	// disk.
	Root string `json:"-"`
}

// Len returns the number of frames (camera views).
func (idx *Index) Len() int {
	return len(idx.Frames)
}

// Frame returns a copy of frame i.
func (idx *Index) Frame(i int) Frame {
	return idx.Frames[i].clone()
}

// Groups returns the frame sets of the capture in frame order. Adjacent frames with the same
// index form one set.
func (idx *Index) Groups() []FrameSet {
	var groups []FrameSet
	for _, f := range idx.Frames {
		f = f.clone()
		if n := len(groups); n > 0 && groups[n-1].Index == f.Index {
			groups[n-1].Frames = append(groups[n-1].Frames, f)
			continue
		}
		groups = append(groups, FrameSet{Index: f.Index, Timestamp: f.Timestamp, Frames: []Frame{f}})
	}
	return groups
}

// IntrinsicsFor returns the frame's own intrinsics, else the capture's shared intrinsics.
func (idx *Index) IntrinsicsFor(f Frame) (*transform.PinholeCameraIntrinsics, error) {
	switch {
	case f.Intrinsics != nil:
		intr := *f.Intrinsics
		return &intr, intr.CheckValid()
	case idx.Intrinsics != nil:
		intr := *idx.Intrinsics
		return &intr, intr.CheckValid()
	default:
		return nil, transform.NewNoIntrinsicsError("capture has no per-frame or shared intrinsics")
	}
}

// SelectGroups samples groups: positions [start, end) stepping by interval. An end of zero or
// less means the last group.
func SelectGroups(groups []FrameSet, start, end, interval int) []FrameSet {
	if interval < 1 {
		interval = 1
	}
	if end <= 0 || end > len(groups) {
		end = len(groups)
	}
	if start < 0 {
		start = 0
	}
	var out []FrameSet
	for i := start; i < end; i += interval {
		out = append(out, groups[i])
	}
	return out
}

// WriteIndex atomically writes idx as JSON to path with frame paths made relative to idx.Root.
func WriteIndex(idx *Index, path string) error {
	onDisk := *idx
	onDisk.Frames = make([]Frame, len(idx.Frames))
	for i, f := range idx.Frames {
		f = f.clone()
		f.Color.Path = relativeTo(idx.Root, f.Color.Path)
		f.Depth.Path = relativeTo(idx.Root, f.Depth.Path)
		onDisk.Frames[i] = f
	}
	return utils.WriteFileAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(&onDisk)
	})
}

// ReadIndex reads a canonical index. Relative frame paths are resolved against the directory
// holding the file.
func ReadIndex(path string) (*Index, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, newFormatError(MissingFile, path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var idx Index
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		return nil, newFormatError(Malformed, path, err)
	}
	if idx.Version != IndexVersion {
		return nil, newFormatError(Malformed, path, errors.Errorf("unsupported index version %q", idx.Version))
	}
	idx.Root = filepath.Dir(path)
	for i := range idx.Frames {
		idx.Frames[i].Color.Path = resolveAgainst(idx.Root, idx.Frames[i].Color.Path)
		idx.Frames[i].Depth.Path = resolveAgainst(idx.Root, idx.Frames[i].Depth.Path)
	}
	return &idx, nil
}

// writeIndexIfAbsent writes the canonical index next to the capture unless one already exists.
func writeIndexIfAbsent(idx *Index) (bool, error) {
	path := filepath.Join(idx.Root, IndexFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "checking %q", path)
	}
	return true, WriteIndex(idx, path)
}

// IndexSchema returns the JSON schema of the canonical index file.
func IndexSchema() ([]byte, error) {
	schema := jsonschema.Reflect(&Index{})
	return json.MarshalIndent(schema, "", "  ")
}

func relativeTo(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func resolveAgainst(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, filepath.FromSlash(path))
}
