package tsdf

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/spatialmath"
	"github.com/mejkerslab/questgear3d/utils"
)

// View is one camera observation to integrate. Pose is camera to world in the integration
// convention. Color is optional and must match the depth size when given.
type View struct {
	Depth      *rimage.DepthMap
	Color      *image.NRGBA
	Intrinsics *transform.PinholeCameraIntrinsics
	Pose       spatialmath.Pose
}

func (view View) validate() error {
	if view.Depth == nil {
		return errors.New("view has no depth")
	}
	if view.Pose == nil {
		return errors.New("view has no pose")
	}
	if err := view.Intrinsics.CheckValid(); err != nil {
		return err
	}
	if view.Intrinsics.Width != view.Depth.Width() || view.Intrinsics.Height != view.Depth.Height() {
		return errors.Errorf("intrinsics are %dx%d but depth is %dx%d",
			view.Intrinsics.Width, view.Intrinsics.Height, view.Depth.Width(), view.Depth.Height())
	}
	if view.Color != nil && view.Color.Bounds().Size() != view.Depth.Bounds().Size() {
		return errors.Errorf("color is %v but depth is %dx%d", view.Color.Bounds().Size(), view.Depth.Width(), view.Depth.Height())
	}
	return nil
}

// Integrate fuses view into the volume: blocks are allocated along every valid pixel's
// truncation band, then every voxel of those blocks takes a running weighted average of its
// projective signed distance. The result does not depend on integration order.
func (v *Volume) Integrate(ctx context.Context, view View) error {
	ctx, span := trace.StartSpan(ctx, "tsdf::Integrate")
	defer span.End()
	if err := view.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	camToWorld := spatialmath.PoseToMatrix(view.Pose)
	touched := v.touchedBlocks(view, camToWorld)
	if err := v.allocate(touched); err != nil {
		return err
	}

	coords := make([]BlockCoords, 0, len(touched))
	for bc := range touched {
		coords = append(coords, bc)
	}
	worldToCam := spatialmath.PoseToMatrix(spatialmath.PoseInverse(view.Pose))
	err := utils.GroupWorkParallel(ctx, len(coords), nil, func(_, _, _, _ int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		return func(_, workNum int) {
			v.updateBlock(coords[workNum], view, worldToCam)
		}, nil
	})
	if err != nil {
		return err
	}
	v.frames++
	if view.Color != nil {
		v.colored = true
	}
	return nil
}

// touchedBlocks walks each valid pixel's ray through [d-trunc, d+trunc] at half block steps.
func (v *Volume) touchedBlocks(view View, camToWorld spatialmath.Matrix4) map[BlockCoords]struct{} {
	trunc := v.cfg.TruncationDistance
	step := math.Min(v.blockSize()/2, trunc)
	touched := make(map[BlockCoords]struct{})
	intr := view.Intrinsics
	for y := 0; y < view.Depth.Height(); y++ {
		for x := 0; x < view.Depth.Width(); x++ {
			d := view.Depth.GetDepth(x, y)
			if !rimage.IsValidDepth(d) {
				continue
			}
			dir := r3.Vector{X: (float64(x) - intr.Ppx) / intr.Fx, Y: (float64(y) - intr.Ppy) / intr.Fy, Z: 1}
			for z := math.Max(float64(d)-trunc, 1e-6); z <= float64(d)+trunc+1e-9; z += step {
				touched[v.blockOf(camToWorld.TransformPoint(dir.Mul(z)))] = struct{}{}
			}
		}
	}
	return touched
}

// allocate creates the missing blocks of touched, growing or failing per the capacity policy
// before any block is created.
func (v *Volume) allocate(touched map[BlockCoords]struct{}) error {
	missing := 0
	for bc := range touched {
		if _, ok := v.blocks[bc]; !ok {
			missing++
		}
	}
	needed := len(v.blocks) + missing
	if needed > v.capacity {
		if v.cfg.CapacityPolicy == config.CapacityFail {
			return &IntegrationError{Kind: VolumeCapacityExceeded, Needed: needed, Capacity: v.capacity}
		}
		old := v.capacity
		for v.capacity < needed {
			v.capacity *= 2
		}
		v.logger.Infow("grew volume block capacity", "from", old, "to", v.capacity, "blocks", needed)
	}
	res := v.cfg.BlockResolution
	for bc := range touched {
		if _, ok := v.blocks[bc]; !ok {
			v.blocks[bc] = &block{voxels: make([]voxel, res*res*res)}
		}
	}
	return nil
}

// updateBlock projects every voxel of the block into the view. Blocks are disjoint so updates
// run in parallel without locking.
func (v *Volume) updateBlock(bc BlockCoords, view View, worldToCam spatialmath.Matrix4) {
	res := v.cfg.BlockResolution
	trunc := v.cfg.TruncationDistance
	intr := view.Intrinsics
	w, h := view.Depth.Width(), view.Depth.Height()
	b := v.blocks[bc]
	for z := 0; z < res; z++ {
		for y := 0; y < res; y++ {
			for x := 0; x < res; x++ {
				p := v.latticePoint([3]int{bc.X*res + x, bc.Y*res + y, bc.Z*res + z})
				pc := worldToCam.TransformPoint(p)
				u, vv, ok := intr.PointToPixel(pc.X, pc.Y, pc.Z)
				if !ok {
					continue
				}
				px, py := int(math.Round(u)), int(math.Round(vv))
				if px < 0 || py < 0 || px >= w || py >= h {
					continue
				}
				d := view.Depth.GetDepth(px, py)
				if !rimage.IsValidDepth(d) {
					continue
				}
				sdf := float64(d) - pc.Z
				if sdf < -trunc {
					continue
				}
				t := float32(math.Min(1, sdf/trunc))
				vox := &b.voxels[v.localIndex(x, y, z)]
				nw := vox.weight + 1
				vox.tsdf = (vox.tsdf*vox.weight + t) / nw
				if view.Color != nil {
					c := view.Color.NRGBAAt(px, py)
					vox.r = (vox.r*vox.weight + float32(c.R)) / nw
					vox.g = (vox.g*vox.weight + float32(c.G)) / nw
					vox.b = (vox.b*vox.weight + float32(c.B)) / nw
				}
				vox.weight = nw
			}
		}
	}
}
