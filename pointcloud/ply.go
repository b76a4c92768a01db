package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PLYType is the encoding of a ply file body.
type PLYType int

const (
	// PLYBinary is binary_little_endian, the layout most viewers load fastest.
	PLYBinary PLYType = iota
	// PLYAscii is the plain text layout.
	PLYAscii
)

// ToPLY writes the cloud as a ply vertex list: float x, y, z followed by uchar red, green, blue
// when the cloud is colored. Uncolored points in a colored cloud are written white.
func ToPLY(cloud PointCloud, out io.Writer, outputType PLYType) error {
	w := bufio.NewWriter(out)
	hasColor := cloud.MetaData().HasColor

	format := "binary_little_endian"
	if outputType == PLYAscii {
		format = "ascii"
	}
	if _, err := fmt.Fprintf(w, "ply\nformat %s 1.0\nelement vertex %d\n"+
		"property float x\nproperty float y\nproperty float z\n", format, cloud.Size()); err != nil {
		return err
	}
	if hasColor {
		if _, err := fmt.Fprint(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(w, "end_header\n"); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 15)
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		r, g, b := uint8(255), uint8(255), uint8(255)
		if d != nil && d.HasColor() {
			r, g, b = d.RGB255()
		}
		switch outputType {
		case PLYAscii:
			if hasColor {
				_, err = fmt.Fprintf(w, "%g %g %g %d %d %d\n", float32(pos.X), float32(pos.Y), float32(pos.Z), r, g, b)
			} else {
				_, err = fmt.Fprintf(w, "%g %g %g\n", float32(pos.X), float32(pos.Y), float32(pos.Z))
			}
		default:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			n := 12
			if hasColor {
				buf[12], buf[13], buf[14] = r, g, b
				n = 15
			}
			_, err = w.Write(buf[:n])
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

type plyProperty struct {
	name string
	kind string
}

type plyHeader struct {
	format     string
	vertices   int
	properties []plyProperty
}

var plyScalarSizes = map[string]int{
	"char": 1, "int8": 1, "uchar": 1, "uint8": 1,
	"short": 2, "int16": 2, "ushort": 2, "uint16": 2,
	"int": 4, "int32": 4, "uint": 4, "uint32": 4,
	"float": 4, "float32": 4, "double": 8, "float64": 8,
}

// ReadPLY reads the vertex element of a ply file. Binary files of either byte order are decoded
// directly; ascii files go through goply.
func ReadPLY(inRaw io.Reader) (PointCloud, error) {
	in := bufio.NewReader(inRaw)
	var raw bytes.Buffer
	header, err := readPLYHeader(in, &raw)
	if err != nil {
		return nil, err
	}
	switch header.format {
	case "ascii":
		return readPLYAscii(io.MultiReader(&raw, in))
	case "binary_little_endian":
		return readPLYBinary(in, header, binary.LittleEndian)
	case "binary_big_endian":
		return readPLYBinary(in, header, binary.BigEndian)
	default:
		return nil, errors.Errorf("unsupported ply format %q", header.format)
	}
}

func readPLYHeader(in *bufio.Reader, raw *bytes.Buffer) (*plyHeader, error) {
	header := &plyHeader{vertices: -1}
	inVertex := false
	for lineNum := 0; ; lineNum++ {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading ply header line %d", lineNum)
		}
		raw.WriteString(line)
		tokens := strings.Fields(line)
		if lineNum == 0 {
			if len(tokens) != 1 || tokens[0] != "ply" {
				return nil, errors.New("not a ply file")
			}
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "format":
			if len(tokens) != 3 {
				return nil, errors.Errorf("bad ply format line %q", strings.TrimSpace(line))
			}
			header.format = tokens[1]
		case "element":
			if len(tokens) != 3 {
				return nil, errors.Errorf("bad ply element line %q", strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(tokens[2])
			if err != nil || count < 0 {
				return nil, errors.Errorf("bad ply element count %q", tokens[2])
			}
			inVertex = tokens[1] == "vertex"
			if inVertex {
				header.vertices = count
			} else if header.vertices < 0 && count > 0 {
				return nil, errors.Errorf("ply element %q before vertex is not supported", tokens[1])
			}
		case "property":
			if !inVertex {
				continue
			}
			if len(tokens) != 3 {
				return nil, errors.Errorf("unsupported ply vertex property %q", strings.TrimSpace(line))
			}
			if _, ok := plyScalarSizes[tokens[1]]; !ok {
				return nil, errors.Errorf("unsupported ply property type %q", tokens[1])
			}
			header.properties = append(header.properties, plyProperty{name: tokens[2], kind: tokens[1]})
		case "end_header":
			if header.vertices < 0 {
				return nil, errors.New("ply file has no vertex element")
			}
			return header, nil
		}
	}
}

func readPLYBinary(in io.Reader, header *plyHeader, order binary.ByteOrder) (PointCloud, error) {
	stride := 0
	for _, p := range header.properties {
		stride += plyScalarSizes[p.kind]
	}
	pc := NewWithPrealloc(header.vertices)
	buf := make([]byte, stride)
	values := make(map[string]float64, len(header.properties))
	for i := 0; i < header.vertices; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading ply vertex %d of %d", i, header.vertices)
		}
		offset := 0
		for _, p := range header.properties {
			values[p.name] = decodePLYScalar(buf[offset:], p.kind, order)
			offset += plyScalarSizes[p.kind]
		}
		if err := appendPLYVertex(pc, values); err != nil {
			return nil, errors.Wrapf(err, "ply vertex %d", i)
		}
	}
	return pc, nil
}

func decodePLYScalar(b []byte, kind string, order binary.ByteOrder) float64 {
	switch kind {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(order.Uint16(b)))
	case "ushort", "uint16":
		return float64(order.Uint16(b))
	case "int", "int32":
		return float64(int32(order.Uint32(b)))
	case "uint", "uint32":
		return float64(order.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}

func readPLYAscii(in io.Reader) (pc PointCloud, err error) {
	// goply panics on malformed input
	defer func() {
		if thePanic := recover(); thePanic != nil {
			pc = nil
			err = errors.Errorf("malformed ascii ply: %v", thePanic)
		}
	}()
	ply := goply.New(in)
	vertices := ply.Elements("vertex")
	pc = NewWithPrealloc(len(vertices))
	values := map[string]float64{}
	for i, vertex := range vertices {
		for name, v := range vertex {
			f, ok := plyValueToFloat(v)
			if !ok {
				continue
			}
			values[name] = f
		}
		if err := appendPLYVertex(pc, values); err != nil {
			return nil, errors.Wrapf(err, "ply vertex %d", i)
		}
	}
	return pc, nil
}

func plyValueToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func appendPLYVertex(pc PointCloud, values map[string]float64) error {
	x, okX := values["x"]
	y, okY := values["y"]
	z, okZ := values["z"]
	if !okX || !okY || !okZ {
		return errors.New("ply vertex needs x, y and z properties")
	}
	var d Data
	r, okR := values["red"]
	g, okG := values["green"]
	b, okB := values["blue"]
	if okR && okG && okB {
		d = NewColoredData(color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})
	} else {
		d = NewBasicData()
	}
	return pc.Append(r3.Vector{X: x, Y: y, Z: z}, d)
}
