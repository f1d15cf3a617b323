package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredBadListenAddrIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "not-a-host-port"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("malformed listen_addr should be fatal")
	}
}

func TestValidateTieredUnknownVideoCodecIsFatal(t *testing.T) {
	cfg := Default()
	cfg.VideoCodec = "vp9"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("unsupported video codec should be fatal")
	}
}

func TestValidateTieredUnknownAudioCodecIsFatal(t *testing.T) {
	cfg := Default()
	cfg.AudioCodec = "aac"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("unsupported audio codec should be fatal")
	}
}

func TestValidateTieredDimensionDefaultingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.MaxWidth = 0
	cfg.MaxHeight = -1
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("defaulted dimensions should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.MaxWidth != 1920 || cfg.MaxHeight != 1080 {
		t.Fatalf("dimensions = %dx%d, want 1920x1080", cfg.MaxWidth, cfg.MaxHeight)
	}
}

func TestValidateTieredBitrateClamping(t *testing.T) {
	cfg := Default()
	cfg.BitrateBps = 10
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped bitrate should be warning: %v", result.Fatals)
	}
	if cfg.BitrateBps != 100_000 {
		t.Fatalf("BitrateBps = %d, want 100000", cfg.BitrateBps)
	}

	cfg.BitrateBps = 999_000_000
	result = cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped bitrate should be warning: %v", result.Fatals)
	}
	if cfg.BitrateBps != 200_000_000 {
		t.Fatalf("BitrateBps = %d, want 200000000", cfg.BitrateBps)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info (defaulted)", cfg.LogLevel)
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestValidateTieredBadMetricsAddrDisables(t *testing.T) {
	cfg := Default()
	cfg.MetricsEnabled = true
	cfg.MetricsAddr = "garbage"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("bad metrics addr should not be fatal")
	}
	if cfg.MetricsEnabled {
		t.Fatal("expected metrics to be disabled after validation")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "garbage" // fatal
	cfg.LogLevel = "verbose"   // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
	if !strings.Contains(all[0].Error(), "listen_addr") {
		t.Fatalf("expected fatal listed first, got %v", all[0])
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
