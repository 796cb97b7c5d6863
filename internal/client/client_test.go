// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package client

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/logging"
	"github.com/distort-io/distort/internal/protocol"
	"github.com/distort-io/distort/internal/transfer"
)

// fakeRegistry answers CONN_CLIENT and a scripted sequence of
// REQ_DISTORT/REQ_RECONNECT replies, one reply per call in order.
type fakeRegistry struct {
	ln      net.Listener
	replies []string // "ip:port" or one of the *_KO payloads
}

func startFakeRegistry(t *testing.T, replies []string) *fakeRegistry {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	fr := &fakeRegistry{ln: ln, replies: replies}
	go fr.serve(t)
	return fr
}

func (fr *fakeRegistry) serve(t *testing.T) {
	conn, err := fr.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	f, outcome, _ := protocol.ReadFrame(conn)
	if outcome != protocol.Ok || f.Type != protocol.ConnClient {
		return
	}
	protocol.WriteFrame(conn, protocol.New(protocol.ConnClient, nil))

	for _, reply := range fr.replies {
		f, outcome, _ := protocol.ReadFrame(conn)
		if outcome != protocol.Ok {
			return
		}
		var data []byte
		if strings.HasSuffix(reply, "_KO") {
			data = []byte(reply)
		} else {
			host, port, _ := net.SplitHostPort(reply)
			_ = port
			ip, p := host, mustAtoi(t, port)
			data = protocol.EncodeRegistryDistortReply(ip, p)
		}
		protocol.WriteFrame(conn, protocol.New(f.Type, data))
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			t.Fatalf("bad port %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// fakeWorker runs one full worker-side job dialogue: receive the file,
// confirm reassembly, "distort" it by uppercasing, and send it back.
func startFakeWorker(t *testing.T, distort func([]byte) []byte) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		f, outcome, err := protocol.ReadFrame(conn)
		if outcome != protocol.Ok || f.Type != protocol.ReqDistort {
			return
		}
		meta, err := protocol.DecodeDistortMetadata(f.Data)
		if err != nil {
			return
		}
		protocol.WriteFrame(conn, protocol.New(protocol.ReqDistort, nil))

		dir := t.TempDir()
		recvPath := filepath.Join(dir, "recv")
		nPackets := transfer.PacketCount(meta.Filesize)
		outcome, err = transfer.Receive(context.Background(), conn, recvPath, nPackets, 0, nil)
		if outcome != protocol.Ok {
			return
		}

		got, err := os.ReadFile(recvPath)
		if err != nil {
			return
		}
		sum, _ := md5File(recvPath)
		if sum != meta.MD5 {
			protocol.WriteFrame(conn, protocol.NewString(protocol.MD5Check, protocol.PayloadCheckKO))
			return
		}
		protocol.WriteFrame(conn, protocol.NewString(protocol.MD5Check, protocol.PayloadCheckOK))

		distorted := distort(got)
		outPath := filepath.Join(dir, "out")
		if err := os.WriteFile(outPath, distorted, 0644); err != nil {
			return
		}
		outSum, _ := md5File(outPath)
		protocol.WriteFrame(conn, protocol.New(protocol.MetaOut, protocol.EncodeMetaOut(protocol.MetaOutPayload{
			FilesizeOut: int64(len(distorted)), MD5Out: outSum,
		})))

		transfer.Send(context.Background(), conn, outPath, transfer.PacketCount(int64(len(distorted))), 0, nil)

		protocol.ReadFrame(conn) // client's CHECK_OK/CHECK_KO
		protocol.ReadFrame(conn) // BYE
	}()
	return ln
}

func newTestClient(t *testing.T, registryAddr string, folderPath string) *Client {
	t.Helper()
	host, port, err := net.SplitHostPort(registryAddr)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.ClientConfig{
		Username:     "alice",
		FolderPath:   folderPath,
		RegistryIP:   host,
		RegistryPort: mustAtoi(t, port),
	}
	logger, closer := logging.NewLogger("error", "text", "")
	t.Cleanup(func() { closer.Close() })

	c, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestJob_FullHappyPath(t *testing.T) {
	worker := startFakeWorker(t, bytes.ToUpper)
	defer worker.Close()

	reg := startFakeRegistry(t, []string{worker.Addr().String()})
	defer reg.ln.Close()

	dir := t.TempDir()
	content := []byte("hello distortion")
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, reg.ln.Addr().String(), dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.SubmitJob(ctx, protocol.ClassText, "hello.txt", 3); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "distorted_hello.txt"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	want := bytes.ToUpper(content)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestJob_NoWorkerFailsImmediately(t *testing.T) {
	reg := startFakeRegistry(t, []string{protocol.PayloadDistortKO})
	defer reg.ln.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, reg.ln.Addr().String(), dir)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.SubmitJob(ctx, protocol.ClassText, "hello.txt", 1); err == nil {
		t.Fatal("expected job to fail when no worker is available")
	}
}

// TestJob_SendFile_ResumesAfterReconnectToNewWorker exercises the exact
// scenario a worker-side checkpoint resume exists for: a worker dies partway
// through receiving the source file, and a successor worker adopts its
// parked (partial) file and checkpoint. The successor only ever sees the
// packets from the checkpoint's n_done offset onward, so if the Client
// restarted sendFile at packet 0 on reconnect — instead of resuming from its
// own last-ACKed offset — the bytes the successor appends at that offset
// would corrupt the reassembled file and fail its MD5 check.
func TestJob_SendFile_ResumesAfterReconnectToNewWorker(t *testing.T) {
	shared := t.TempDir()
	recvPath := filepath.Join(shared, "recv")

	content := make([]byte, protocol.DataSize*2+10)
	for i := range content {
		content[i] = byte(i * 3 % 251)
	}
	nPackets := transfer.PacketCount(int64(len(content)))
	if nPackets != 3 {
		t.Fatalf("test setup expects 3 packets, got %d", nPackets)
	}

	// worker1 hand-rolls the receive side so it can vanish after exactly two
	// packets, instead of running the whole transfer to completion.
	worker1 := func() net.Listener {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()

			if _, outcome, _ := protocol.ReadFrame(conn); outcome != protocol.Ok {
				return
			}
			protocol.WriteFrame(conn, protocol.New(protocol.ReqDistort, nil))

			f, err := os.OpenFile(recvPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
			if err != nil {
				return
			}
			defer f.Close()
			for i := 0; i < 2; i++ {
				packet, outcome, _ := protocol.ReadFrame(conn)
				if outcome != protocol.Ok || packet.Type != protocol.Data {
					return
				}
				if _, err := f.Write(packet.Data); err != nil {
					return
				}
				if err := protocol.WriteFrame(conn, protocol.New(protocol.Ack, nil)); err != nil {
					return
				}
			}
			// Die without reading packet 2: the connection just closes here.
		}()
		return ln
	}()
	defer worker1.Close()

	// worker2 is the successor: it adopts the partial recvPath (as if it had
	// parked it) and resumes the same transfer at packet 2.
	worker2 := startFakeWorkerResumingAt(t, recvPath, nPackets, 2, bytes.ToUpper)
	defer worker2.Close()

	reg := startFakeRegistry(t, []string{worker1.Addr().String(), worker2.Addr().String()})
	defer reg.ln.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.bin"), content, 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, reg.ln.Addr().String(), dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.SubmitJob(ctx, protocol.ClassText, "hello.bin", 1); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	recvd, err := os.ReadFile(recvPath)
	if err != nil {
		t.Fatalf("reading worker-side reassembled file: %v", err)
	}
	if !bytes.Equal(recvd, content) {
		t.Fatalf("worker never received the correct bytes at the resumed offset: got %d bytes, want %d matching the original", len(recvd), len(content))
	}

	got, err := os.ReadFile(filepath.Join(dir, "distorted_hello.bin"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if want := bytes.ToUpper(content); !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// startFakeWorkerResumingAt is startFakeWorker's mirror for the resume path:
// it receives the remaining packets of an already-partially-written file
// starting at startPacket, instead of a fresh one starting at 0.
func startFakeWorkerResumingAt(t *testing.T, recvPath string, nPackets, startPacket int, distort func([]byte) []byte) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		f, outcome, err := protocol.ReadFrame(conn)
		if outcome != protocol.Ok || f.Type != protocol.ReqDistort {
			return
		}
		meta, err := protocol.DecodeDistortMetadata(f.Data)
		if err != nil {
			return
		}
		protocol.WriteFrame(conn, protocol.New(protocol.ReqDistort, nil))

		outcome, err = transfer.Receive(context.Background(), conn, recvPath, nPackets, startPacket, nil)
		if outcome != protocol.Ok {
			return
		}

		got, err := os.ReadFile(recvPath)
		if err != nil {
			return
		}
		sum, _ := md5File(recvPath)
		if sum != meta.MD5 {
			protocol.WriteFrame(conn, protocol.NewString(protocol.MD5Check, protocol.PayloadCheckKO))
			return
		}
		protocol.WriteFrame(conn, protocol.NewString(protocol.MD5Check, protocol.PayloadCheckOK))

		dir := t.TempDir()
		distorted := distort(got)
		outPath := filepath.Join(dir, "out")
		if err := os.WriteFile(outPath, distorted, 0644); err != nil {
			return
		}
		outSum, _ := md5File(outPath)
		protocol.WriteFrame(conn, protocol.New(protocol.MetaOut, protocol.EncodeMetaOut(protocol.MetaOutPayload{
			FilesizeOut: int64(len(distorted)), MD5Out: outSum,
		})))

		transfer.Send(context.Background(), conn, outPath, transfer.PacketCount(int64(len(distorted))), 0, nil)

		protocol.ReadFrame(conn) // client's CHECK_OK/CHECK_KO
		protocol.ReadFrame(conn) // BYE
	}()
	return ln
}

func TestJob_ReconnectSamePrimaryGivesUp(t *testing.T) {
	// The worker accepts the metadata handshake then vanishes mid-transfer,
	// so SendFile observes a closed connection and the Client reconnects —
	// the Registry then hands back the exact same address, which must give
	// up rather than loop forever.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		protocol.ReadFrame(conn) // REQ_DISTORT
		protocol.WriteFrame(conn, protocol.New(protocol.ReqDistort, nil))
		conn.Close() // die before any DATA frame
	}()

	addr := ln.Addr().String()
	reg := startFakeRegistry(t, []string{addr, addr})
	defer reg.ln.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, reg.ln.Addr().String(), dir)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = c.SubmitJob(ctx, protocol.ClassText, "hello.txt", 1)
	if err == nil {
		t.Fatal("expected job to fail once the registry returns the same primary twice")
	}
}
