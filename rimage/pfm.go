package rimage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// ErrMalformedRaster is returned when a raster file cannot be decoded.
var ErrMalformedRaster = errors.New("malformed raster")

const pfmInitialPixels = 1 << 20

func newMalformedRasterError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedRaster, format, args...)
}

// ReadPFMFile reads a single channel Portable Float Map from disk.
func ReadPFMFile(fn string) (*FloatMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	fm, err := ReadPFM(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", fn)
	}
	return fm, nil
}

// ReadPFM decodes a single channel ("Pf") Portable Float Map. The scale line's sign selects
// the byte order (negative is little endian) and rows are stored bottom to top.
func ReadPFM(r *bufio.Reader) (*FloatMap, error) {
	header, err := readPFMHeaderLine(r)
	if err != nil {
		return nil, err
	}
	switch header {
	case "Pf":
	case "PF":
		return nil, newMalformedRasterError("color PFM is not supported for depth or confidence")
	default:
		return nil, newMalformedRasterError("not a PFM file, header %q", header)
	}

	dims, err := readPFMHeaderLine(r)
	if err != nil {
		return nil, err
	}
	tokens := strings.Fields(dims)
	if len(tokens) != 2 {
		return nil, newMalformedRasterError("bad PFM dimensions line %q", dims)
	}
	width, err := strconv.Atoi(tokens[0])
	if err != nil {
		return nil, newMalformedRasterError("bad PFM width %q", tokens[0])
	}
	height, err := strconv.Atoi(tokens[1])
	if err != nil {
		return nil, newMalformedRasterError("bad PFM height %q", tokens[1])
	}
	if !ValidRasterSize(width, height) {
		return nil, newMalformedRasterError("bad width or height for PFM %d x %d", width, height)
	}

	scaleLine, err := readPFMHeaderLine(r)
	if err != nil {
		return nil, err
	}
	scale, err := strconv.ParseFloat(scaleLine, 64)
	if err != nil || scale == 0 {
		return nil, newMalformedRasterError("bad PFM scale %q", scaleLine)
	}
	var order binary.ByteOrder = binary.BigEndian
	if scale < 0 {
		order = binary.LittleEndian
	}

	// grown per row, so a truncated body fails before the declared size is allocated
	data := make([]float32, 0, min(width*height, pfmInitialPixels))
	row := make([]byte, 4*width)
	for fileRow := 0; fileRow < height; fileRow++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, newMalformedRasterError("PFM data ends at row %d of %d: %v", fileRow, height, err)
		}
		for x := 0; x < width; x++ {
			data = append(data, math.Float32frombits(order.Uint32(row[4*x:])))
		}
	}
	for top, bottom := 0, height-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := data[top*width : (top+1)*width]
		b := data[bottom*width : (bottom+1)*width]
		for x := range a {
			a[x], b[x] = b[x], a[x]
		}
	}
	return &FloatMap{width: width, height: height, data: data}, nil
}

func readPFMHeaderLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", newMalformedRasterError("truncated PFM header: %v", err)
	}
	return strings.TrimSpace(line), nil
}

// WritePFMFile writes fm to disk as a little endian PFM.
func WritePFMFile(fn string, fm *FloatMap) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if err := WritePFM(w, fm); err != nil {
		return err
	}
	return w.Flush()
}

// WritePFM encodes fm as a little endian, single channel PFM.
func WritePFM(w io.Writer, fm *FloatMap) error {
	if _, err := fmt.Fprintf(w, "Pf\n%d %d\n-1\n", fm.width, fm.height); err != nil {
		return err
	}
	row := make([]byte, 4*fm.width)
	for y := fm.height - 1; y >= 0; y-- {
		for x := 0; x < fm.width; x++ {
			binary.LittleEndian.PutUint32(row[4*x:], math.Float32bits(fm.data[y*fm.width+x]))
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
