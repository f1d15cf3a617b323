package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validVideoCodecs = map[string]bool{
	"h264": true,
	"none": true,
}

var validAudioCodecs = map[string]bool{
	"opus": true,
	"none": true,
}

// ValidationResult separates fatal configuration errors, which must abort
// startup, from warnings, which are logged and auto-corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors concatenates fatals and warnings, fatals first.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks c for invalid values. Malformed addresses and
// unsupported codecs are fatal, since the process cannot run without a
// well-formed listen address or an encoder it knows how to construct.
// Everything else is a warning: the value is clamped or defaulted in
// place and startup continues.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
		}
	}

	if c.VideoCodec != "" && !validVideoCodecs[strings.ToLower(c.VideoCodec)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("video_codec %q is not supported", c.VideoCodec))
	}

	if c.AudioCodec != "" && !validAudioCodecs[strings.ToLower(c.AudioCodec)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("audio_codec %q is not supported", c.AudioCodec))
	}

	if c.MaxWidth <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_width %d is invalid, defaulting to 1920", c.MaxWidth))
		c.MaxWidth = 1920
	}
	if c.MaxHeight <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_height %d is invalid, defaulting to 1080", c.MaxHeight))
		c.MaxHeight = 1080
	}

	if c.MaxFPSNum <= 0 || c.MaxFPSDen <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_fps %d/%d is invalid, defaulting to 60/1", c.MaxFPSNum, c.MaxFPSDen))
		c.MaxFPSNum, c.MaxFPSDen = 60, 1
	}

	if c.BitrateBps < 100_000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("bitrate_bps %d is below minimum 100000, clamping", c.BitrateBps))
		c.BitrateBps = 100_000
	} else if c.BitrateBps > 200_000_000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("bitrate_bps %d exceeds maximum 200000000, clamping", c.BitrateBps))
		c.BitrateBps = 200_000_000
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.MetricsEnabled && c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			r.Warnings = append(r.Warnings, fmt.Errorf("metrics_addr %q is not host:port, disabling metrics", c.MetricsAddr))
			c.MetricsEnabled = false
		}
	}

	return r
}
