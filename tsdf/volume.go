// Package tsdf fuses depth frames into a sparse truncated signed distance volume and extracts
// surfaces from it.
//
// The volume is a hash of fixed size voxel blocks allocated on demand along each depth ray's
// truncation band. Voxels sit on a global lattice with spacing VoxelSize; block b holds lattice
// indices [b*res, (b+1)*res) on each axis.
package tsdf

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
)

// VolumeConfig sizes a Volume.
type VolumeConfig struct {
	VoxelSize          float64
	TruncationDistance float64
	BlockResolution    int
	// BlockCount is the initial block capacity.
	BlockCount     int
	CapacityPolicy config.CapacityPolicy
}

// VolumeConfigFromConfig derives the volume configuration from the run configuration.
func VolumeConfigFromConfig(cfg *config.Config) VolumeConfig {
	return VolumeConfig{
		VoxelSize:          cfg.VoxelSize,
		TruncationDistance: cfg.TruncationDistance(),
		BlockResolution:    cfg.BlockResolution,
		BlockCount:         cfg.BlockCount,
		CapacityPolicy:     cfg.CapacityPolicy,
	}
}

// Validate checks the configuration.
func (c VolumeConfig) Validate() error {
	if c.VoxelSize <= 0 {
		return errors.Errorf("voxel size must be positive, got %v", c.VoxelSize)
	}
	if c.TruncationDistance < c.VoxelSize {
		return errors.Errorf("truncation distance %v must be at least one voxel", c.TruncationDistance)
	}
	if c.BlockResolution < 2 {
		return errors.Errorf("block resolution must be at least 2, got %d", c.BlockResolution)
	}
	if c.BlockCount <= 0 {
		return errors.Errorf("block count must be positive, got %d", c.BlockCount)
	}
	switch c.CapacityPolicy {
	case config.CapacityGrow, config.CapacityFail:
	default:
		return errors.Errorf("unknown capacity policy %q", c.CapacityPolicy)
	}
	return nil
}

// BlockCoords addresses a voxel block.
type BlockCoords struct {
	X, Y, Z int
}

type voxel struct {
	tsdf    float32
	weight  float32
	r, g, b float32
}

type block struct {
	voxels []voxel
}

// Volume is a sparse TSDF volume. It is mutated only by Integrate; all methods are safe for
// concurrent use.
type Volume struct {
	mu       sync.Mutex
	cfg      VolumeConfig
	blocks   map[BlockCoords]*block
	capacity int
	frames   int
	colored  bool
	extracts int
	logger   logging.Logger
}

// NewVolume returns an empty volume.
func NewVolume(cfg VolumeConfig, logger logging.Logger) (*Volume, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Volume{
		cfg:      cfg,
		blocks:   make(map[BlockCoords]*block),
		capacity: cfg.BlockCount,
		logger:   logger,
	}, nil
}

// Config returns the volume configuration.
func (v *Volume) Config() VolumeConfig {
	return v.cfg
}

// IntegratedFrames returns how many views have been integrated.
func (v *Volume) IntegratedFrames() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

func (v *Volume) blockSize() float64 {
	return v.cfg.VoxelSize * float64(v.cfg.BlockResolution)
}

func (v *Volume) blockOf(p r3.Vector) BlockCoords {
	bs := v.blockSize()
	return BlockCoords{
		X: int(math.Floor(p.X / bs)),
		Y: int(math.Floor(p.Y / bs)),
		Z: int(math.Floor(p.Z / bs)),
	}
}

// latticePoint returns the world position of global lattice index g.
func (v *Volume) latticePoint(g [3]int) r3.Vector {
	return r3.Vector{X: float64(g[0]), Y: float64(g[1]), Z: float64(g[2])}.Mul(v.cfg.VoxelSize)
}

func (v *Volume) localIndex(x, y, z int) int {
	res := v.cfg.BlockResolution
	return (z*res+y)*res + x
}

// voxelAt returns the voxel at global lattice index g, if its block is allocated.
func (v *Volume) voxelAt(g [3]int) (voxel, bool) {
	res := v.cfg.BlockResolution
	bc := BlockCoords{X: floorDiv(g[0], res), Y: floorDiv(g[1], res), Z: floorDiv(g[2], res)}
	b, ok := v.blocks[bc]
	if !ok {
		return voxel{}, false
	}
	return b.voxels[v.localIndex(g[0]-bc.X*res, g[1]-bc.Y*res, g[2]-bc.Z*res)], true
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
