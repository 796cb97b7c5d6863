// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

// Package transfer implements the packetized, resumable file transfer that
// carries a file's bytes inside DATA frames, one packet per frame, with an
// ACK after every packet.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/distort-io/distort/internal/protocol"
)

// ErrInterrupted is returned by Send/Receive when ctx is canceled mid-transfer.
var ErrInterrupted = errors.New("transfer: interrupted")

// PacketCount returns the number of DataSize-byte packets needed to carry a
// file of the given size, matching how the sender and receiver both compute
// n_packets from filesize so they agree without exchanging it explicitly.
func PacketCount(filesize int64) int {
	if filesize <= 0 {
		return 0
	}
	n := filesize / protocol.DataSize
	if filesize%protocol.DataSize != 0 {
		n++
	}
	return int(n)
}

// Progress is invoked after each packet is sent or received with the running
// done count, so a caller can persist a checkpoint between packets.
type Progress func(nDone int)

// Send streams path's bytes as a sequence of DATA frames starting from
// packet startPacket (the checkpoint-resumed offset), expecting one ACK frame
// per packet. conn is the connection's ReadWriter; the same connection must
// not be used concurrently for anything else while Send runs.
//
// Returns protocol.Ok on a clean finish, protocol.Interrupted if ctx is
// canceled between packets (the file offset up to the last ACKed packet is
// preserved via onProgress for a later resume), protocol.PeerClosed if the
// peer closes the connection mid-transfer, and protocol.TransportError for
// any I/O or framing fault.
func Send(ctx context.Context, conn io.ReadWriter, path string, nPackets, startPacket int, onProgress Progress) (protocol.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.TransportError, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	offset := int64(startPacket) * protocol.DataSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return protocol.TransportError, fmt.Errorf("seeking %s to packet %d: %w", path, startPacket, err)
	}

	buf := make([]byte, protocol.DataSize)
	done := startPacket
	for done < nPackets {
		select {
		case <-ctx.Done():
			return protocol.Interrupted, ErrInterrupted
		default:
		}

		n, rerr := io.ReadFull(f, buf)
		if rerr != nil && rerr != io.ErrUnexpectedEOF && n == 0 {
			return protocol.TransportError, fmt.Errorf("reading %s packet %d: %w", path, done, rerr)
		}

		if err := protocol.WriteFrame(conn, protocol.New(protocol.Data, buf[:n])); err != nil {
			return protocol.TransportError, fmt.Errorf("sending packet %d: %w", done, err)
		}

		ack, outcome, err := protocol.ReadFrame(conn)
		if outcome != protocol.Ok {
			return outcome, err
		}
		if ack.Type != protocol.Ack {
			return protocol.TransportError, fmt.Errorf("expected ACK for packet %d, got %s", done, ack.Type)
		}

		done++
		if onProgress != nil {
			onProgress(done)
		}
	}
	return protocol.Ok, nil
}

// Receive is Send's mirror: it reads nPackets DATA frames, appending each to
// path starting at the byte offset implied by startPacket, ACKing every
// packet as it lands. path is opened without truncation so a resumed
// transfer does not discard bytes already written in a prior attempt.
func Receive(ctx context.Context, conn io.ReadWriter, path string, nPackets, startPacket int, onProgress Progress) (protocol.Outcome, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return protocol.TransportError, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	offset := int64(startPacket) * protocol.DataSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return protocol.TransportError, fmt.Errorf("seeking %s to packet %d: %w", path, startPacket, err)
	}

	done := startPacket
	for done < nPackets {
		select {
		case <-ctx.Done():
			return protocol.Interrupted, ErrInterrupted
		default:
		}

		packet, outcome, err := protocol.ReadFrame(conn)
		if outcome != protocol.Ok {
			return outcome, err
		}
		if packet.Type != protocol.Data {
			return protocol.TransportError, fmt.Errorf("expected DATA for packet %d, got %s", done, packet.Type)
		}

		if _, err := f.Write(packet.Data); err != nil {
			return protocol.TransportError, fmt.Errorf("writing packet %d to %s: %w", done, path, err)
		}

		if err := protocol.WriteFrame(conn, protocol.New(protocol.Ack, nil)); err != nil {
			return protocol.TransportError, fmt.Errorf("acking packet %d: %w", done, err)
		}

		done++
		if onProgress != nil {
			onProgress(done)
		}
	}
	return protocol.Ok, nil
}
