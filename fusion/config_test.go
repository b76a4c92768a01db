package fusion

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/depthfuse/pointcloud"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.MinConfidence, test.ShouldEqual, 0.1)
	test.That(t, cfg.MinAgreeingViews, test.ShouldEqual, 3)
	test.That(t, cfg.MaxPixelDrift, test.ShouldEqual, 1.0)
	test.That(t, cfg.MaxRelativeDepthError, test.ShouldEqual, 0.01)
	test.That(t, cfg.IntrinsicsDivisor, test.ShouldEqual, 2.0)
	test.That(t, cfg.OutputFormat, test.ShouldEqual, pointcloud.FormatPLY)
	test.That(t, cfg.OutputName("scan1"), test.ShouldEqual, "scan1.ply")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "fusion.json")
	data := `{"min_agreeing_views": 2, "output_format": "pcd", "output_template": "mvsnet_{scan}.pcd"}`
	test.That(t, os.WriteFile(fn, []byte(data), 0o600), test.ShouldBeNil)

	cfg, err := LoadConfig(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.MinAgreeingViews, test.ShouldEqual, 2)
	test.That(t, cfg.OutputFormat, test.ShouldEqual, pointcloud.FormatPCD)
	test.That(t, cfg.OutputName("scan4"), test.ShouldEqual, "mvsnet_scan4.pcd")
	// untouched fields keep their defaults
	test.That(t, cfg.MinConfidence, test.ShouldEqual, 0.1)
	test.That(t, cfg.ImageMaxWidth, test.ShouldEqual, 800)

	t.Run("wrong extension", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(dir, "fusion.yaml"))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, ".json")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(dir, "missing.json"))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("bad json", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		test.That(t, os.WriteFile(bad, []byte("{"), 0o600), test.ShouldBeNil)
		_, err := LoadConfig(bad)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("invalid values", func(t *testing.T) {
		invalid := filepath.Join(dir, "invalid.json")
		test.That(t, os.WriteFile(invalid, []byte(`{"min_confidence": 2}`), 0o600), test.ShouldBeNil)
		_, err := LoadConfig(invalid)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "min_confidence")
	})
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"negative views", func(c *Config) { c.MinAgreeingViews = -1 }, "min_agreeing_views"},
		{"zero drift", func(c *Config) { c.MaxPixelDrift = 0 }, "max_pixel_drift"},
		{"zero relative error", func(c *Config) { c.MaxRelativeDepthError = 0 }, "max_relative_depth_error"},
		{"zero divisor", func(c *Config) { c.IntrinsicsDivisor = 0 }, "intrinsics_divisor"},
		{"zero color scale", func(c *Config) { c.ColorScale = 0 }, "color_scale"},
		{"half resize", func(c *Config) { c.ImageMaxHeight = 0 }, "set together"},
		{"negative parallelism", func(c *Config) { c.Parallelism = -2 }, "parallelism"},
		{"unknown format", func(c *Config) { c.OutputFormat = "obj" }, "obj"},
		{"no placeholder", func(c *Config) { c.OutputTemplate = "out.ply" }, "{scan}"},
		{"directory template", func(c *Config) { c.OutputTemplate = "clouds/{scan}.ply" }, "file name"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}

	cfg := DefaultConfig()
	cfg.MinAgreeingViews = 0
	cfg.ImageMaxHeight, cfg.ImageMaxWidth = 0, 0
	test.That(t, cfg.Validate(), test.ShouldBeNil)
}
