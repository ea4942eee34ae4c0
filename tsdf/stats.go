package tsdf

import (
	"fmt"
	"unsafe"

	"github.com/docker/go-units"
)

// Stats describes the volume's allocation.
type Stats struct {
	Blocks           int
	Capacity         int
	AllocatedVoxels  int
	ObservedVoxels   int
	IntegratedFrames int
	// MeshExtractions counts extractions that actually ran.
	MeshExtractions int
	MemoryBytes     int64
}

func (s Stats) String() string {
	return fmt.Sprintf("%d/%d blocks, %d observed voxels, %d frames, %s",
		s.Blocks, s.Capacity, s.ObservedVoxels, s.IntegratedFrames, units.BytesSize(float64(s.MemoryBytes)))
}

// Stats returns a snapshot of the volume's allocation.
func (v *Volume) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	res := v.cfg.BlockResolution
	perBlock := res * res * res
	s := Stats{
		Blocks:           len(v.blocks),
		Capacity:         v.capacity,
		AllocatedVoxels:  len(v.blocks) * perBlock,
		IntegratedFrames: v.frames,
		MeshExtractions:  v.extracts,
		MemoryBytes:      int64(len(v.blocks)) * int64(perBlock) * int64(unsafe.Sizeof(voxel{})),
	}
	for _, b := range v.blocks {
		for _, vox := range b.voxels {
			if vox.weight > 0 {
				s.ObservedVoxels++
			}
		}
	}
	return s
}
