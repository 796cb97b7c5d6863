// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package distortion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDistortText_FiltersShortWords(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	if err := os.WriteFile(src, []byte("a bb ccc dddd eeeee"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := DistortText(src, dst, 4); err != nil {
		t.Fatalf("DistortText: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	words := strings.Fields(string(got))
	for _, w := range words {
		if len(w) < 4 {
			t.Errorf("unexpected short word %q in output", w)
		}
	}
	if len(words) != 2 {
		t.Fatalf("expected 2 surviving words, got %v", words)
	}
}

func TestDistortText_FactorBelowOneKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	if err := os.WriteFile(src, []byte("a bb ccc"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := DistortText(src, dst, 0); err != nil {
		t.Fatalf("DistortText: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(strings.Fields(string(got))) != 3 {
		t.Fatalf("expected all 3 words kept, got %q", got)
	}
}

func TestDistortMedia_CodecSelection(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{"wav", "pgzip"},
		{"bmp", "pgzip"},
		{"tga", "pgzip"},
		{"png", "zstd"},
		{"jpg", "zstd"},
		{"jpeg", "zstd"},
		{"WAV", "pgzip"},
	}
	for _, tt := range tests {
		if got := mediaCodec(tt.ext); got != tt.want {
			t.Errorf("mediaCodec(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestDistortMedia_ProducesNonEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.wav")
	dst := filepath.Join(dir, "dst.wav")

	payload := strings.Repeat("RIFFWAVEfmt ", 1000)
	if err := os.WriteFile(src, []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	if err := DistortMedia(src, dst, "wav", 9); err != nil {
		t.Fatalf("DistortMedia: %v", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty distorted output")
	}
}

func TestDistortMedia_Zstd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.png")

	if err := os.WriteFile(src, []byte(strings.Repeat("pngdata", 500)), 0644); err != nil {
		t.Fatal(err)
	}
	if err := DistortMedia(src, dst, "png", 5); err != nil {
		t.Fatalf("DistortMedia: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty distorted output")
	}
}
