package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

// pointValueDataTag encodes if the point has value data.
const pointValueDataTag = "qg|pv"

// WriteToFile writes the cloud in the format implied by the file extension (.ply, .pcd or .las).
func WriteToFile(cloud PointCloud, fn string) (err error) {
	ext := strings.ToLower(filepath.Ext(fn))
	switch ext {
	case ".las":
		return WriteToLASFile(cloud, fn)
	case ".ply", ".pcd":
	default:
		return errors.Errorf("do not know how to write point cloud file %q", fn)
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	switch ext {
	case ".ply":
		err = ToPLY(cloud, w)
	default:
		err = ToPCD(cloud, w, PCDBinary)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

// NewFromLASFile returns a point cloud from reading a LAS file.
func NewFromLASFile(fn string) (PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	var hasValue bool
	var valueData []byte
	for _, d := range lf.VlrData {
		if d.Description == pointValueDataTag {
			hasValue = true
			valueData = d.BinaryData
			break
		}
	}

	pc := New()
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()
		v := r3.Vector{X: data.X, Y: data.Y, Z: data.Z}

		bd := &basicData{}
		if lf.Header.PointFormatID == 2 && p.RgbData() != nil {
			bd.hasColor = true
			bd.c = color.NRGBA{
				R: uint8(p.RgbData().Red / 256),
				G: uint8(p.RgbData().Green / 256),
				B: uint8(p.RgbData().Blue / 256),
				A: 255,
			}
		}
		if hasValue && len(valueData) >= i*8+8 {
			bd.hasValue = true
			bd.value = int(int64(binary.LittleEndian.Uint64(valueData[i*8 : (i*8)+8])))
		}
		if err := pc.Set(v, bd); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// WriteToLASFile writes the point cloud out to a LAS file.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	meta := cloud.MetaData()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	var pVals []int
	if meta.HasValue {
		pVals = make([]int, 0, cloud.Size())
	}
	var lastErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if meta.HasValue {
			if d != nil && d.HasValue() {
				pVals = append(pVals, d.Value())
			} else {
				pVals = append(pVals, 0)
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if meta.HasValue {
		var buf bytes.Buffer
		for _, v := range pVals {
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, uint64(v))
			buf.Write(b)
		}
		if err = lf.AddVLR(lidario.VLR{
			UserID:                  "",
			Description:             pointValueDataTag,
			BinaryData:              buf.Bytes(),
			RecordLengthAfterHeader: buf.Len(),
		}); err != nil {
			return
		}
	}
	if lastErr != nil {
		err = lastErr
		return
	}

	// nolint:nakedret
	return
}

func colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}

	r, g, b := pt.RGB255()
	x := 0

	x |= (int(r) << 16)
	x |= (int(g) << 8)
	x |= (int(b) << 0)
	return x
}

// ToPCD writes out a point cloud to a PCD file of the given type. Positions are in meters.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	switch cloud.MetaData().HasColor {
	case true:
		_, err = fmt.Fprintf(out, "FIELDS x y z rgb\n"+
			"SIZE 4 4 4 4\n"+
			"TYPE F F F I\n"+
			"COUNT 1 1 1 1\n")
	case false:
		_, err = fmt.Fprintf(out, "FIELDS x y z\n"+
			"SIZE 4 4 4\n"+
			"TYPE F F F\n"+
			"COUNT 1 1 1\n")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	hasColor := cloud.MetaData().HasColor
	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		switch pcdtype {
		case PCDBinary:
			buf := make([]byte, 0, 16)
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.X)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Y)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Z)))
			if hasColor {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(colorToPCDInt(d)))
			}
			_, err = out.Write(buf)
		case PCDAscii:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", pos.X, pos.Y, pos.Z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
			}
		}
		return err == nil
	})
	return err
}

// ToPLY writes the cloud as an ascii PLY with optional colors and an integer "value" property.
func ToPLY(cloud PointCloud, out io.Writer) error {
	meta := cloud.MetaData()
	header := &strings.Builder{}
	fmt.Fprintf(header, "ply\nformat ascii 1.0\nelement vertex %d\n", cloud.Size())
	header.WriteString("property float x\nproperty float y\nproperty float z\n")
	if meta.HasColor {
		header.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	if meta.HasValue {
		header.WriteString("property int value\n")
	}
	header.WriteString("end_header\n")
	if _, err := io.WriteString(out, header.String()); err != nil {
		return err
	}

	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		line := fmt.Sprintf("%g %g %g", float32(pos.X), float32(pos.Y), float32(pos.Z))
		if meta.HasColor {
			var r, g, b uint8
			if d != nil && d.HasColor() {
				r, g, b = d.RGB255()
			}
			line += fmt.Sprintf(" %d %d %d", r, g, b)
		}
		if meta.HasValue {
			v := 0
			if d != nil && d.HasValue() {
				v = d.Value()
			}
			line += fmt.Sprintf(" %d", v)
		}
		_, err = io.WriteString(out, line+"\n")
		return err == nil
	})
	return err
}
