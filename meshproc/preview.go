package meshproc

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/geo/r3"
	"github.com/lmittmann/ppm"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"

	"github.com/mejkerslab/questgear3d/spatialmath"
	"github.com/mejkerslab/questgear3d/utils"
)

const (
	previewFieldOfView = 50.0
	previewSupersample = 2
	previewNear        = 1e-3
)

var defaultBackground = color.NRGBA{R: 32, G: 34, B: 40, A: 255}

// Viewpoint is a look-at camera in mesh coordinates.
type Viewpoint struct {
	Eye    r3.Vector
	Target r3.Vector
	// Up defaults to -Y, the integration convention's up.
	Up r3.Vector
}

// PreviewOptions controls RenderPreview. A nil Viewpoint frames the whole mesh.
type PreviewOptions struct {
	Width, Height int
	Viewpoint     *Viewpoint
	Background    color.Color
}

func (o PreviewOptions) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return errors.Errorf("preview size must be positive, got %dx%d", o.Width, o.Height)
	}
	return nil
}

func (o PreviewOptions) background() color.Color {
	if o.Background == nil {
		return defaultBackground
	}
	return o.Background
}

// autoViewpoint looks at the bounding box center from slightly above and to the side of the
// capture direction, far enough back for the bounding sphere to fit.
func autoViewpoint(m *spatialmath.Mesh) Viewpoint {
	lo, hi, _ := m.Bounds()
	center := lo.Add(hi).Mul(0.5)
	radius := math.Max(hi.Sub(lo).Norm()/2, 1e-6)
	dist := radius / math.Sin(utils.DegToRad(previewFieldOfView/2)) * 1.05
	dir := r3.Vector{X: 0.3, Y: -0.4, Z: -1}.Normalize()
	return Viewpoint{Eye: center.Add(dir.Mul(dist)), Target: center, Up: r3.Vector{Y: -1}}
}

type previewCamera struct {
	eye                  r3.Vector
	right, down, forward r3.Vector
	focal, cx, cy        float64
}

func newPreviewCamera(vp Viewpoint, width, height int) (*previewCamera, error) {
	forward := vp.Target.Sub(vp.Eye)
	if forward.Norm() == 0 {
		return nil, errors.New("viewpoint eye and target coincide")
	}
	forward = forward.Normalize()
	up := vp.Up
	if up.Norm() == 0 {
		up = r3.Vector{Y: -1}
	}
	right := up.Mul(-1).Cross(forward)
	if right.Norm() < 1e-9 {
		return nil, errors.New("viewpoint up is parallel to the view direction")
	}
	right = right.Normalize()
	return &previewCamera{
		eye:     vp.Eye,
		right:   right,
		down:    forward.Cross(right),
		forward: forward,
		focal:   float64(height) / 2 / math.Tan(utils.DegToRad(previewFieldOfView/2)),
		cx:      float64(width) / 2,
		cy:      float64(height) / 2,
	}, nil
}

func (c *previewCamera) project(p r3.Vector) (x, y, depth float64) {
	d := p.Sub(c.eye)
	depth = d.Dot(c.forward)
	return c.cx + c.focal*d.Dot(c.right)/depth, c.cy + c.focal*d.Dot(c.down)/depth, depth
}

// RenderPreview draws a flat shaded image of m with a headlight. Vertex colors are used when
// present, otherwise faces are tinted by height.
func RenderPreview(ctx context.Context, m *spatialmath.Mesh, opts PreviewOptions) (image.Image, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if m.IsEmpty() {
		return placeholderPreview(opts), nil
	}
	vp := autoViewpoint(m)
	if opts.Viewpoint != nil {
		vp = *opts.Viewpoint
	}
	w, h := opts.Width*previewSupersample, opts.Height*previewSupersample
	cam, err := newPreviewCamera(vp, w, h)
	if err != nil {
		return nil, err
	}

	type projected struct {
		face  int
		depth float64
		pts   [3][2]float64
	}
	faces := make([]projected, 0, len(m.Faces))
	for i, f := range m.Faces {
		var pf projected
		pf.face = i
		visible := true
		for k, idx := range f {
			x, y, d := cam.project(m.Vertices[idx])
			if d <= previewNear {
				visible = false
				break
			}
			pf.pts[k] = [2]float64{x, y}
			pf.depth += d / 3
		}
		if visible {
			faces = append(faces, pf)
		}
	}
	// painter's order, far to near
	sort.SliceStable(faces, func(i, j int) bool { return faces[i].depth > faces[j].depth })

	lo, hi, _ := m.Bounds()
	dc := gg.NewContext(w, h)
	dc.SetColor(opts.background())
	dc.Clear()
	for n, pf := range faces {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		base := faceColor(m, pf.face, lo.Y, hi.Y)
		k := 0.25 + 0.75*math.Abs(m.Triangle(pf.face).Normal().Dot(cam.forward))
		dc.SetColor(colorful.Color{R: base.R * k, G: base.G * k, B: base.B * k}.Clamped())
		dc.MoveTo(pf.pts[0][0], pf.pts[0][1])
		dc.LineTo(pf.pts[1][0], pf.pts[1][1])
		dc.LineTo(pf.pts[2][0], pf.pts[2][1])
		dc.ClosePath()
		dc.Fill()
	}
	return imaging.Resize(dc.Image(), opts.Width, opts.Height, imaging.Linear), nil
}

func faceColor(m *spatialmath.Mesh, face int, minY, maxY float64) colorful.Color {
	f := m.Faces[face]
	if m.HasColors() {
		var r, g, b float64
		for _, idx := range f {
			c, _ := colorful.MakeColor(m.Colors[idx])
			r += c.R / 3
			g += c.G / 3
			b += c.B / 3
		}
		return colorful.Color{R: r, G: g, B: b}
	}
	t := 0.5
	if maxY > minY {
		t = (m.Triangle(face).Centroid().Y - minY) / (maxY - minY)
	}
	return colorful.Hsv(220*utils.Clamp(t, 0, 1), 0.45, 0.9)
}

func placeholderPreview(opts PreviewOptions) image.Image {
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	dc := gg.NewContext(w, h)
	dc.SetColor(opts.background())
	dc.Clear()
	dc.SetRGB(0.6, 0.6, 0.6)
	dc.DrawStringAnchored("no geometry", float64(w)/2, float64(h)/2, 0.5, 0.5)
	return dc.Image()
}

// EncodePreview writes img in format: png, jpg, jpeg, qoi or ppm.
func EncodePreview(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "qoi":
		return qoi.Encode(w, img)
	case "ppm":
		return ppm.Encode(w, img)
	default:
		return errors.Errorf("unknown preview format %q", format)
	}
}

// WritePreviewFile writes img to path, choosing the encoding from the extension.
func WritePreviewFile(img image.Image, path string) error {
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return utils.WriteFileAtomic(path, func(f *os.File) error {
		return EncodePreview(f, img, format)
	})
}
