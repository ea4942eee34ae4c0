package spatialmath

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/mejkerslab/questgear3d/utils"
)

// WriteMeshToFile writes m in the format implied by the file extension (.ply or .obj).
func WriteMeshToFile(m *Mesh, path string, binaryPLY bool) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ply":
		err = WritePLY(m, w, binaryPLY)
	case ".obj":
		err = WriteOBJ(m, w)
	default:
		return errors.Errorf("do not know how to write mesh file %q", path)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

// WritePLY writes m as a PLY file with float vertices, optional uchar colors and optional float
// normals.
func WritePLY(m *Mesh, w io.Writer, binaryFormat bool) error {
	format := "ascii"
	if binaryFormat {
		format = "binary_little_endian"
	}
	header := &strings.Builder{}
	fmt.Fprintf(header, "ply\nformat %s 1.0\n", format)
	fmt.Fprintf(header, "element vertex %d\n", len(m.Vertices))
	header.WriteString("property float x\nproperty float y\nproperty float z\n")
	if m.HasNormals() {
		header.WriteString("property float nx\nproperty float ny\nproperty float nz\n")
	}
	if m.HasColors() {
		header.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(header, "element face %d\n", len(m.Faces))
	header.WriteString("property list uchar int vertex_indices\nend_header\n")
	if _, err := io.WriteString(w, header.String()); err != nil {
		return err
	}

	if binaryFormat {
		return writePLYBinaryBody(m, w)
	}
	for i, v := range m.Vertices {
		line := fmt.Sprintf("%g %g %g", float32(v.X), float32(v.Y), float32(v.Z))
		if m.HasNormals() {
			n := m.Normals[i]
			line += fmt.Sprintf(" %g %g %g", float32(n.X), float32(n.Y), float32(n.Z))
		}
		if m.HasColors() {
			c := m.Colors[i]
			line += fmt.Sprintf(" %d %d %d", c.R, c.G, c.B)
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	for _, f := range m.Faces {
		if _, err := fmt.Fprintf(w, "3 %d %d %d\n", f[0], f[1], f[2]); err != nil {
			return err
		}
	}
	return nil
}

func writePLYBinaryBody(m *Mesh, w io.Writer) error {
	buf := make([]byte, 0, 27)
	putFloat := func(v float64) {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
	for i, v := range m.Vertices {
		buf = buf[:0]
		putFloat(v.X)
		putFloat(v.Y)
		putFloat(v.Z)
		if m.HasNormals() {
			n := m.Normals[i]
			putFloat(n.X)
			putFloat(n.Y)
			putFloat(n.Z)
		}
		if m.HasColors() {
			c := m.Colors[i]
			buf = append(buf, c.R, c.G, c.B)
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	for _, f := range m.Faces {
		buf = buf[:0]
		buf = append(buf, 3)
		for _, idx := range f {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(idx))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteOBJ writes m as a Wavefront OBJ. Vertex colors use the common "v x y z r g b" extension.
func WriteOBJ(m *Mesh, w io.Writer) error {
	for i, v := range m.Vertices {
		var err error
		if m.HasColors() {
			c := m.Colors[i]
			_, err = fmt.Fprintf(w, "v %g %g %g %.4f %.4f %.4f\n", v.X, v.Y, v.Z,
				float64(c.R)/255, float64(c.G)/255, float64(c.B)/255)
		} else {
			_, err = fmt.Fprintf(w, "v %g %g %g\n", v.X, v.Y, v.Z)
		}
		if err != nil {
			return err
		}
	}
	if m.HasNormals() {
		for _, n := range m.Normals {
			if _, err := fmt.Fprintf(w, "vn %g %g %g\n", n.X, n.Y, n.Z); err != nil {
				return err
			}
		}
	}
	for _, f := range m.Faces {
		var err error
		// OBJ indices are 1 based.
		if m.HasNormals() {
			_, err = fmt.Fprintf(w, "f %d//%d %d//%d %d//%d\n", f[0]+1, f[0]+1, f[1]+1, f[1]+1, f[2]+1, f[2]+1)
		} else {
			_, err = fmt.Fprintf(w, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// NewMeshFromPLYFile reads a triangle mesh from a PLY file. Polygons with more than three corners
// are fanned into triangles.
func NewMeshFromPLYFile(path string) (*Mesh, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return NewMeshFromPLY(f)
}

// NewMeshFromPLY reads a triangle mesh from PLY data. ASCII bodies are parsed by goply; binary
// bodies are decoded from the header's property layout.
func NewMeshFromPLY(r io.Reader) (*Mesh, error) {
	br := bufio.NewReader(r)
	header, err := readPLYHeader(br)
	if err != nil {
		return nil, err
	}
	var vertices, faces []map[string]interface{}
	switch header.format {
	case "ascii":
		vertices, faces, err = readASCIIPLY(io.MultiReader(strings.NewReader(header.raw), br))
	case "binary_little_endian":
		vertices, faces, err = readBinaryPLY(br, header, binary.LittleEndian)
	case "binary_big_endian":
		vertices, faces, err = readBinaryPLY(br, header, binary.BigEndian)
	default:
		err = errors.Errorf("unsupported ply format %q", header.format)
	}
	if err != nil {
		return nil, err
	}
	return meshFromPLYElements(vertices, faces)
}

func readASCIIPLY(r io.Reader) (vertices, faces []map[string]interface{}, err error) {
	defer func() {
		// goply reports malformed input by panicking.
		if thePanic := recover(); thePanic != nil {
			err = errors.Errorf("malformed ply data: %v", thePanic)
		}
	}()
	ply := goply.New(r)
	return plyElementMaps(ply.Elements("vertex")), plyElementMaps(ply.Elements("face")), nil
}

func plyElementMaps(elems []goply.PlyElement) []map[string]interface{} {
	out := make([]map[string]interface{}, len(elems))
	for i, e := range elems {
		out[i] = e
	}
	return out
}

func meshFromPLYElements(vertices, faces []map[string]interface{}) (*Mesh, error) {
	m := NewMesh()
	m.Vertices = make([]r3.Vector, 0, len(vertices))
	for _, v := range vertices {
		x, errX := plyFloat(v["x"])
		y, errY := plyFloat(v["y"])
		z, errZ := plyFloat(v["z"])
		if err := multierr.Combine(errX, errY, errZ); err != nil {
			return nil, errors.Wrap(err, "reading vertex")
		}
		m.Vertices = append(m.Vertices, r3.Vector{X: x, Y: y, Z: z})
		if _, ok := v["red"]; ok {
			red, errR := plyFloat(v["red"])
			green, errG := plyFloat(v["green"])
			blue, errB := plyFloat(v["blue"])
			if err := multierr.Combine(errR, errG, errB); err != nil {
				return nil, errors.Wrap(err, "reading vertex color")
			}
			m.Colors = append(m.Colors, color.NRGBA{uint8(red), uint8(green), uint8(blue), 255})
		}
	}
	if len(m.Colors) != 0 && len(m.Colors) != len(m.Vertices) {
		return nil, errors.Errorf("%d of %d vertices carry a color", len(m.Colors), len(m.Vertices))
	}

	for _, face := range faces {
		idxs, err := plyIndices(face["vertex_indices"])
		if err != nil {
			idxs, err = plyIndices(face["vertex_index"])
			if err != nil {
				return nil, errors.Wrap(err, "reading face")
			}
		}
		for _, idx := range idxs {
			if idx < 0 || idx >= len(m.Vertices) {
				return nil, errors.Errorf("face references vertex %d of %d", idx, len(m.Vertices))
			}
		}
		for i := 1; i+1 < len(idxs); i++ {
			m.Faces = append(m.Faces, [3]int{idxs[0], idxs[i], idxs[i+1]})
		}
	}
	return m, nil
}

type plyProperty struct {
	name     string
	typ      string
	list     bool
	countTyp string
}

type plyElement struct {
	name       string
	count      int
	properties []plyProperty
}

type plyHeader struct {
	format   string
	elements []plyElement
	// raw is the header text up to and including end_header.
	raw string
}

func readPLYHeader(br *bufio.Reader) (*plyHeader, error) {
	h := &plyHeader{}
	var raw strings.Builder
	for lineNum := 0; ; lineNum++ {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading ply header")
		}
		raw.WriteString(line)
		fields := strings.Fields(line)
		if lineNum == 0 {
			if len(fields) != 1 || fields[0] != "ply" {
				return nil, errors.New("not a ply file")
			}
			continue
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) != 3 {
				return nil, errors.Errorf("bad ply format line %q", strings.TrimSpace(line))
			}
			h.format = fields[1]
		case "element":
			if len(fields) != 3 {
				return nil, errors.Errorf("bad ply element line %q", strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, errors.Errorf("bad ply element count %q", fields[2])
			}
			h.elements = append(h.elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(h.elements) == 0 {
				return nil, errors.New("ply property before any element")
			}
			var prop plyProperty
			switch {
			case len(fields) == 5 && fields[1] == "list":
				prop = plyProperty{name: fields[4], typ: fields[3], list: true, countTyp: fields[2]}
			case len(fields) == 3:
				prop = plyProperty{name: fields[2], typ: fields[1]}
			default:
				return nil, errors.Errorf("bad ply property line %q", strings.TrimSpace(line))
			}
			for _, typ := range []string{prop.typ, prop.countTyp} {
				if typ != "" && plyTypeSize(typ) == 0 {
					return nil, errors.Errorf("unknown ply type %q", typ)
				}
			}
			last := &h.elements[len(h.elements)-1]
			last.properties = append(last.properties, prop)
		case "end_header":
			if h.format == "" {
				return nil, errors.New("ply header has no format line")
			}
			h.raw = raw.String()
			return h, nil
		}
	}
}

func plyTypeSize(typ string) int {
	switch typ {
	case "char", "uchar", "int8", "uint8":
		return 1
	case "short", "ushort", "int16", "uint16":
		return 2
	case "int", "uint", "int32", "uint32", "float", "float32":
		return 4
	case "double", "float64":
		return 8
	default:
		return 0
	}
}

func readPLYScalar(r io.Reader, typ string, order binary.ByteOrder, buf []byte) (float64, error) {
	b := buf[:plyTypeSize(typ)]
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	switch typ {
	case "char", "int8":
		return float64(int8(b[0])), nil
	case "uchar", "uint8":
		return float64(b[0]), nil
	case "short", "int16":
		return float64(int16(order.Uint16(b))), nil
	case "ushort", "uint16":
		return float64(order.Uint16(b)), nil
	case "int", "int32":
		return float64(int32(order.Uint32(b))), nil
	case "uint", "uint32":
		return float64(order.Uint32(b)), nil
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(b))), nil
	default:
		return math.Float64frombits(order.Uint64(b)), nil
	}
}

// readBinaryPLY decodes every element of a binary body; only vertex and face instances are kept.
func readBinaryPLY(r io.Reader, h *plyHeader, order binary.ByteOrder) (vertices, faces []map[string]interface{}, err error) {
	buf := make([]byte, 8)
	for _, elem := range h.elements {
		for i := 0; i < elem.count; i++ {
			values := make(map[string]interface{}, len(elem.properties))
			for _, prop := range elem.properties {
				if !prop.list {
					v, err := readPLYScalar(r, prop.typ, order, buf)
					if err != nil {
						return nil, nil, errors.Wrapf(err, "reading %s %d of %d", elem.name, i, elem.count)
					}
					values[prop.name] = v
					continue
				}
				n, err := readPLYScalar(r, prop.countTyp, order, buf)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "reading %s %d of %d", elem.name, i, elem.count)
				}
				if n < 0 {
					return nil, nil, errors.Errorf("%s %d has a negative list length", elem.name, i)
				}
				list := make([]int, int(n))
				for j := range list {
					v, err := readPLYScalar(r, prop.typ, order, buf)
					if err != nil {
						return nil, nil, errors.Wrapf(err, "reading %s %d of %d", elem.name, i, elem.count)
					}
					list[j] = int(v)
				}
				values[prop.name] = list
			}
			switch elem.name {
			case "vertex":
				vertices = append(vertices, values)
			case "face":
				faces = append(faces, values)
			}
		}
	}
	return vertices, faces, nil
}

func plyFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, utils.NewUnexpectedTypeError(float64(0), v)
	}
}

func plyIndices(v interface{}) ([]int, error) {
	var out []int
	switch list := v.(type) {
	case []interface{}:
		for _, item := range list {
			f, err := plyFloat(item)
			if err != nil {
				return nil, err
			}
			out = append(out, int(f))
		}
	case []int32:
		for _, item := range list {
			out = append(out, int(item))
		}
	case []uint32:
		for _, item := range list {
			out = append(out, int(item))
		}
	case []int:
		out = append(out, list...)
	default:
		return nil, utils.NewUnexpectedTypeError([]int{}, v)
	}
	return out, nil
}
