// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package distortion

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// mediaCodec picks which compressor carries a Media file's distortion, by
// extension: pgzip for the two-channel PCM/bitmap formats, zstd for the
// formats that are already DCT-compressed and benefit from a wider window.
func mediaCodec(ext string) string {
	switch strings.ToLower(ext) {
	case "wav", "bmp", "tga":
		return "pgzip"
	case "png", "jpg", "jpeg":
		return "zstd"
	default:
		return "pgzip"
	}
}

// factorToLevel maps the 1-9 factor scale carried in the wire metadata onto
// each codec's own level range, clamping out-of-range factors instead of
// failing the job over a cosmetic input.
func factorToLevel(codec string, factor int) int {
	if codec == "zstd" {
		switch {
		case factor <= 2:
			return int(zstd.SpeedFastest)
		case factor <= 5:
			return int(zstd.SpeedDefault)
		case factor <= 8:
			return int(zstd.SpeedBetterCompression)
		default:
			return int(zstd.SpeedBestCompression)
		}
	}
	if factor < 1 {
		return pgzip.BestSpeed
	}
	if factor > 9 {
		return pgzip.BestCompression
	}
	return factor
}

// DistortMedia replaces dst with src's bytes recompressed at a level keyed
// by factor and chosen by ext, the Media-class counterpart to DistortText.
func DistortMedia(src, dst, ext string, factor int) error {
	switch mediaCodec(ext) {
	case "zstd":
		return distortZstd(src, dst, factor)
	default:
		return distortPgzip(src, dst, factor)
	}
}

func distortPgzip(src, dst string, factor int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	zw, err := pgzip.NewWriterLevel(out, factorToLevel("pgzip", factor))
	if err != nil {
		return fmt.Errorf("creating pgzip writer: %w", err)
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	return zw.Close()
}

func distortZstd(src, dst string, factor int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	level := zstd.EncoderLevel(factorToLevel("zstd", factor))
	zw, err := zstd.NewWriter(out, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	return zw.Close()
}
