// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package protocol

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
)

func TestFrame_EncodeSize(t *testing.T) {
	f := New(Data, []byte("hello"))
	buf := f.Encode(1000)
	if len(buf) != FrameSize {
		t.Fatalf("expected %d bytes, got %d", FrameSize, len(buf))
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		data []byte
	}{
		{"empty", Ack, nil},
		{"short text", ConnClient, []byte("alice&10.0.0.1&4000")},
		{"max data", Data, bytes.Repeat([]byte{0xAB}, DataSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.typ, tt.data)
			buf := f.Encode(1700000000)

			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type != f.Type {
				t.Errorf("type: got %v, want %v", got.Type, f.Type)
			}
			if !bytes.Equal(got.Data, f.Data) {
				t.Errorf("data: got %q, want %q", got.Data, f.Data)
			}
			if got.Checksum != f.Checksum {
				t.Errorf("checksum: got 0x%04x, want 0x%04x", got.Checksum, f.Checksum)
			}
			if got.Timestamp != f.Timestamp {
				t.Errorf("timestamp: got %d, want %d", got.Timestamp, f.Timestamp)
			}
		})
	}
}

// TestFrame_ChecksumProperty verifies that for every sent frame, the computed
// checksum equals the received checksum, across random type/data_length/data.
func TestFrame_ChecksumProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		data := make([]byte, rng.Intn(DataSize+1))
		rng.Read(data)
		f := New(Type(rng.Intn(256)), data)
		buf := f.Encode(uint32(rng.Int31()))

		decoded, err := Decode(buf)
		if err != nil {
			t.Fatalf("iteration %d: Decode: %v", i, err)
		}
		if decoded.Checksum != f.Checksum {
			t.Fatalf("iteration %d: checksum mismatch", i)
		}
	}
}

func TestFrame_DataLengthCapped(t *testing.T) {
	f := New(Data, bytes.Repeat([]byte{1}, DataSize+50))
	if f.DataLength() != DataSize {
		t.Fatalf("expected data truncated to %d, got %d", DataSize, f.DataLength())
	}
}

func TestDecode_TruncatedBuffer(t *testing.T) {
	_, err := Decode(make([]byte, FrameSize-1))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	f := New(ConnClient, []byte("bob&127.0.0.1&5000"))
	buf := f.Encode(1700000000)
	buf[checksumOffset] ^= 0xFF // flip a byte of the checksum

	_, err := Decode(buf)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecode_CorruptedDataByte(t *testing.T) {
	// Flipping one byte anywhere in a received frame must be caught by the
	// checksum.
	f := New(Data, bytes.Repeat([]byte{0x5A}, 100))
	buf := f.Encode(1700000000)
	buf[dataOffset+50] ^= 0x01

	_, err := Decode(buf)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestReadWriteFrame_WireIsMultipleOf256(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, New(Ack, nil)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len()%FrameSize != 0 {
		t.Fatalf("wire length %d is not a multiple of %d", buf.Len(), FrameSize)
	}

	got, outcome, err := ReadFrame(&buf)
	if err != nil || outcome != Ok {
		t.Fatalf("ReadFrame: outcome=%v err=%v", outcome, err)
	}
	if got.Type != Ack {
		t.Fatalf("expected Ack, got %v", got.Type)
	}
}

func TestReadFrame_PeerClosed(t *testing.T) {
	r, w := io.Pipe()
	w.Close()

	_, outcome, err := ReadFrame(r)
	if outcome != PeerClosed || err != nil {
		t.Fatalf("expected PeerClosed/nil, got %v/%v", outcome, err)
	}
}

func TestReadFrame_ShortReadIsTransportError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, 10))

	_, outcome, err := ReadFrame(&buf)
	if outcome != TransportError || err == nil {
		t.Fatalf("expected TransportError, got %v/%v", outcome, err)
	}
}
