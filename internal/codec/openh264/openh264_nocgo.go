//go:build !cgo

// Package openh264 is a no-op on builds without cgo: the real encoder and
// decoder require the cgo binding in openh264.go, so nothing registers
// with internal/codec and hosts fall back to advertising only the
// software passthrough codec, mirroring the teacher's
// capture_linux_nocgo.go/capture_windows_nocgo.go stub pattern.
package openh264
