package pointcloud

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/depthfuse/logging"
)

// Format names an on-disk point cloud encoding.
type Format string

// The supported formats.
const (
	FormatPLY      Format = "ply"
	FormatPLYAscii Format = "ply-ascii"
	FormatPCD      Format = "pcd"
	FormatPCDAscii Format = "pcd-ascii"
	FormatLAS      Format = "las"
)

// Formats lists every supported format.
var Formats = []Format{FormatPLY, FormatPLYAscii, FormatPCD, FormatPCDAscii, FormatLAS}

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.Errorf("unknown point cloud format %q", name)
}

// Extension returns the file extension conventionally used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatPCD, FormatPCDAscii:
		return ".pcd"
	case FormatLAS:
		return ".las"
	default:
		return ".ply"
	}
}

// FormatFromExtension guesses the format of fn from its extension. Ambiguous extensions resolve
// to the binary flavor.
func FormatFromExtension(fn string) (Format, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".ply":
		return FormatPLY, nil
	case ".pcd":
		return FormatPCD, nil
	case ".las":
		return FormatLAS, nil
	default:
		return "", errors.Errorf("do not know how to read file %q", fn)
	}
}

// NewFromFile returns a pointcloud read in from the given file. PLY and PCD readers detect the
// body encoding from the header.
func NewFromFile(fn string, logger logging.Logger) (PointCloud, error) {
	format, err := FormatFromExtension(fn)
	if err != nil {
		return nil, err
	}
	var pc PointCloud
	switch format {
	case FormatLAS:
		pc, err = NewFromLASFile(fn)
	default:
		pc, err = readStreamFile(fn, format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading point cloud %q", fn)
	}
	logger.Debugw("read point cloud", "file", fn, "points", pc.Size())
	return pc, nil
}

func readStreamFile(fn string, format Format) (PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	if format == FormatPCD {
		return ReadPCD(f)
	}
	return ReadPLY(f)
}

// WriteToFile writes the cloud to fn in the given format, replacing any existing file.
func WriteToFile(cloud PointCloud, fn string, format Format) (err error) {
	if format == FormatLAS {
		// always start from a fresh file
		if rerr := os.Remove(fn); rerr != nil && !os.IsNotExist(rerr) {
			return rerr
		}
		return WriteToLASFile(cloud, fn)
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
	switch format {
	case FormatPLY:
		err = ToPLY(cloud, w, PLYBinary)
	case FormatPLYAscii:
		err = ToPLY(cloud, w, PLYAscii)
	case FormatPCD:
		err = ToPCD(cloud, w, PCDBinary)
	case FormatPCDAscii:
		err = ToPCD(cloud, w, PCDAscii)
	default:
		err = errors.Errorf("unknown point cloud format %q", format)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}
