// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package protocol

import "errors"

// Framing faults.
var (
	ErrTruncatedFrame   = errors.New("protocol: truncated frame")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrDataTooLong      = errors.New("protocol: data_length exceeds 244 bytes")
	ErrUnknownFrameType = errors.New("protocol: unknown frame type")
	ErrMalformedPayload = errors.New("protocol: malformed payload")
)
