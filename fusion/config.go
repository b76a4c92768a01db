package fusion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/depthfuse/pointcloud"
	"go.viam.com/depthfuse/rimage"
	"go.viam.com/depthfuse/utils"
)

// ScanPlaceholder is replaced by the scan name in Config.OutputTemplate.
const ScanPlaceholder = "{scan}"

const maxConfigFileSize = 1 << 20

// Config holds the thresholds and knobs of the fusion pipeline. The zero value is not useful;
// start from DefaultConfig.
type Config struct {
	// photometric mask: confidence > MinConfidence
	MinConfidence float64 `json:"min_confidence"`
	// geometric mask: agreeing source views >= MinAgreeingViews
	MinAgreeingViews int `json:"min_agreeing_views"`
	// a source agrees when the round trip lands within MaxPixelDrift pixels
	MaxPixelDrift float64 `json:"max_pixel_drift"`
	// and its depth is within MaxRelativeDepthError of the reference depth
	MaxRelativeDepthError float64 `json:"max_relative_depth_error"`

	IntrinsicsDivisor float64 `json:"intrinsics_divisor"`

	// depth pixel (x, y) takes its color from image pixel (x*ColorScale+ColorOffset, ...)
	ColorScale  float64 `json:"color_scale"`
	ColorOffset float64 `json:"color_offset"`

	ImageMaxHeight int `json:"image_max_height"`
	ImageMaxWidth  int `json:"image_max_width"`

	Parallelism int `json:"parallelism"`

	WriteMasks        bool `json:"write_masks"`
	WriteDepthPreview bool `json:"write_depth_preview"`

	OutputFormat   pointcloud.Format `json:"output_format"`
	OutputTemplate string            `json:"output_template"`
}

// DefaultConfig returns the settings used for the DTU evaluation.
func DefaultConfig() Config {
	return Config{
		MinConfidence:         0.1,
		MinAgreeingViews:      3,
		MaxPixelDrift:         1.0,
		MaxRelativeDepthError: 0.01,
		IntrinsicsDivisor:     2,
		ColorScale:            2,
		ColorOffset:           1,
		ImageMaxHeight:        600,
		ImageMaxWidth:         800,
		Parallelism:           utils.ParallelFactor,
		WriteMasks:            true,
		OutputFormat:          pointcloud.FormatPLY,
		OutputTemplate:        ScanPlaceholder + ".ply",
	}
}

// LoadConfig reads a JSON config. Fields missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, errors.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to stat config file")
	}
	if info.Size() > maxConfigFileSize {
		return cfg, errors.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.Errorf("min_confidence must be between 0 and 1, got %v", c.MinConfidence)
	}
	if c.MinAgreeingViews < 0 {
		return errors.Errorf("min_agreeing_views must be non-negative, got %d", c.MinAgreeingViews)
	}
	if c.MaxPixelDrift <= 0 {
		return errors.Errorf("max_pixel_drift must be positive, got %v", c.MaxPixelDrift)
	}
	if c.MaxRelativeDepthError <= 0 {
		return errors.Errorf("max_relative_depth_error must be positive, got %v", c.MaxRelativeDepthError)
	}
	if c.IntrinsicsDivisor <= 0 {
		return errors.Errorf("intrinsics_divisor must be positive, got %v", c.IntrinsicsDivisor)
	}
	if c.ColorScale <= 0 {
		return errors.Errorf("color_scale must be positive, got %v", c.ColorScale)
	}
	if c.ImageMaxHeight < 0 || c.ImageMaxWidth < 0 {
		return errors.Errorf("image_max_height and image_max_width must be non-negative, got %d x %d",
			c.ImageMaxHeight, c.ImageMaxWidth)
	}
	if (c.ImageMaxHeight == 0) != (c.ImageMaxWidth == 0) {
		return errors.New("image_max_height and image_max_width must be set together")
	}
	if c.Parallelism < 0 {
		return errors.Errorf("parallelism must be non-negative, got %d", c.Parallelism)
	}
	if _, err := pointcloud.ParseFormat(string(c.OutputFormat)); err != nil {
		return err
	}
	if !strings.Contains(c.OutputTemplate, ScanPlaceholder) {
		return errors.Errorf("output_template %q must contain %s", c.OutputTemplate, ScanPlaceholder)
	}
	if strings.ContainsRune(strings.ReplaceAll(c.OutputTemplate, ScanPlaceholder, ""), os.PathSeparator) {
		return errors.Errorf("output_template %q must be a file name", c.OutputTemplate)
	}
	return nil
}

// OutputName returns the point cloud file name for scan.
func (c *Config) OutputName(scan string) string {
	return strings.ReplaceAll(c.OutputTemplate, ScanPlaceholder, scan)
}

func (c *Config) parallelism() int {
	if c.Parallelism <= 0 {
		return utils.ParallelFactor
	}
	return c.Parallelism
}

func (c *Config) resizeCrop() rimage.ResizeCropOptions {
	return rimage.ResizeCropOptions{MaxHeight: c.ImageMaxHeight, MaxWidth: c.ImageMaxWidth}
}
