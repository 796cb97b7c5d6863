// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package client

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/distort-io/distort/internal/protocol"
	"github.com/distort-io/distort/internal/transfer"
)

// errGiveUp is returned by reconnect when the Registry hands back the exact
// primary the Client already had: proof the failure was job-specific, not
// host-specific, so retrying again would just repeat it.
var errGiveUp = errors.New("client: registry returned the same primary, job unrecoverable")

// errReassembly marks the worker-side CHECK_KO outcome distinctly from a
// transport fault, even though both take the same reconnect-and-retry path.
var errReassembly = errors.New("client: worker reported a reassembly mismatch")

type stage int

const (
	stageSendMeta stage = iota
	stageSendFile
	stageAwaitCheck
	stageRecvMeta
	stageRecvFile
	stageVerifyAndBye
)

// Job drives one file through the full client-side state machine:
// RequestPrimary, SendMeta, SendFile, AwaitCheck, RecvMeta, RecvFile,
// VerifyAndBye.
type Job struct {
	client    *Client
	class     protocol.Class
	filename  string
	localPath string
	factor    int

	primaryIP   string
	primaryPort int
	workerConn  net.Conn

	nPackets    int
	destPath    string
	expectedMD5 string

	// nDoneSend/nDoneRecv track each direction's last-ACKed packet offset
	// across a reconnect, mirroring the worker-side checkpoint's NDone so a
	// resumed transfer resumes at the right packet instead of replaying from
	// the start. nDoneSend is never reset: the outbound file is the same
	// bytes start to finish, reconnect or not. nDoneRecv resets only in
	// recvMeta, which runs exactly when a fresh META_OUT names a new output
	// file to receive.
	nDoneSend int
	nDoneRecv int
}

// Run executes the job to completion, reverting to SendMeta through a fresh
// Registry reconnect on any recoverable fault, and returns the terminal
// error (nil on success).
func (j *Job) Run(ctx context.Context) error {
	ip, port, err := j.client.link.request(protocol.RegDistort, j.class, j.filename)
	if err != nil {
		return fmt.Errorf("requesting primary for %s: %w", j.filename, err)
	}
	j.primaryIP, j.primaryPort = ip, port

	st := stageSendMeta
	for {
		if j.client.link.Dead() {
			return fmt.Errorf("job %s aborted: registry connection lost", j.filename)
		}

		var stepErr error
		switch st {
		case stageSendMeta:
			stepErr = j.sendMeta()
			if stepErr == nil {
				st = stageSendFile
			}
		case stageSendFile:
			stepErr = j.sendFile(ctx)
			if stepErr == nil {
				st = stageAwaitCheck
			}
		case stageAwaitCheck:
			var ok bool
			ok, stepErr = j.awaitCheck()
			if stepErr == nil {
				if ok {
					st = stageRecvMeta
				} else {
					stepErr = errReassembly
				}
			}
		case stageRecvMeta:
			stepErr = j.recvMeta()
			if stepErr == nil {
				st = stageRecvFile
			}
		case stageRecvFile:
			stepErr = j.recvFile(ctx)
			if stepErr == nil {
				st = stageVerifyAndBye
			}
		case stageVerifyAndBye:
			return j.verifyAndBye()
		}

		if stepErr == nil {
			continue
		}

		if j.workerConn != nil {
			j.workerConn.Close()
			j.workerConn = nil
		}

		if err := j.reconnect(); err != nil {
			return fmt.Errorf("job %s failed after %v: %w", j.filename, stepErr, err)
		}
		st = stageSendMeta
	}
}

// reconnect is the "reconnect via Registry" action shared by every
// recoverable-fault row in the state table.
func (j *Job) reconnect() error {
	ip, port, err := j.client.link.request(protocol.RegReconnect, j.class, j.filename)
	if err != nil {
		return err
	}
	if ip == j.primaryIP && port == j.primaryPort {
		return errGiveUp
	}
	j.primaryIP, j.primaryPort = ip, port
	return nil
}

func (j *Job) sendMeta() error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", j.primaryIP, j.primaryPort))
	if err != nil {
		return fmt.Errorf("connecting to primary %s:%d: %w", j.primaryIP, j.primaryPort, err)
	}

	info, err := os.Stat(j.localPath)
	if err != nil {
		conn.Close()
		return fmt.Errorf("stating %s: %w", j.localPath, err)
	}
	sum, err := md5File(j.localPath)
	if err != nil {
		conn.Close()
		return fmt.Errorf("hashing %s: %w", j.localPath, err)
	}

	meta := protocol.DistortMetadata{
		Username: j.client.cfg.Username,
		Filename: j.filename,
		Filesize: info.Size(),
		MD5:      sum,
		Factor:   j.factor,
	}
	if err := protocol.WriteFrame(conn, protocol.New(protocol.ReqDistort, protocol.EncodeDistortMetadata(meta))); err != nil {
		conn.Close()
		return fmt.Errorf("sending REQ_DISTORT: %w", err)
	}

	ack, outcome, err := protocol.ReadFrame(conn)
	if outcome != protocol.Ok {
		conn.Close()
		return fmt.Errorf("awaiting ACK_DISTORT: outcome=%v: %w", outcome, err)
	}
	if ack.Text() == protocol.PayloadConnKO {
		conn.Close()
		return fmt.Errorf("worker rejected REQ_DISTORT for %s", j.filename)
	}

	j.workerConn = conn
	j.nPackets = transfer.PacketCount(info.Size())
	return nil
}

func (j *Job) sendFile(ctx context.Context) error {
	outcome, err := transfer.Send(ctx, j.workerConn, j.localPath, j.nPackets, j.nDoneSend, func(n int) {
		j.nDoneSend = n
	})
	if outcome != protocol.Ok {
		return fmt.Errorf("sending %s: outcome=%v: %w", j.filename, outcome, err)
	}
	return nil
}

func (j *Job) awaitCheck() (bool, error) {
	f, outcome, err := protocol.ReadFrame(j.workerConn)
	if outcome != protocol.Ok {
		return false, fmt.Errorf("awaiting reassembly check: outcome=%v: %w", outcome, err)
	}
	if f.Type != protocol.MD5Check {
		return false, fmt.Errorf("expected MD5_CHECK, got %s", f.Type)
	}
	return f.Text() == protocol.PayloadCheckOK, nil
}

// recvMeta reads META_OUT and, per the state table, recomputes n_packets,
// opens a fresh target file path, and resets the receive-side resume offset
// — so a job re-entering here after a reconnect never appends to a stale
// partial file, or at the wrong offset, left by a different worker.
func (j *Job) recvMeta() error {
	f, outcome, err := protocol.ReadFrame(j.workerConn)
	if outcome != protocol.Ok {
		return fmt.Errorf("awaiting META_OUT: outcome=%v: %w", outcome, err)
	}
	if f.Type != protocol.MetaOut {
		return fmt.Errorf("expected META_OUT, got %s", f.Type)
	}
	m, err := protocol.DecodeMetaOut(f.Data)
	if err != nil {
		return fmt.Errorf("decoding META_OUT: %w", err)
	}

	j.nPackets = transfer.PacketCount(m.FilesizeOut)
	j.expectedMD5 = m.MD5Out
	j.destPath = filepath.Join(j.client.cfg.FolderPath, "distorted_"+j.filename)
	if err := os.Remove(j.destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing previous output %s: %w", j.destPath, err)
	}
	j.nDoneRecv = 0
	return nil
}

func (j *Job) recvFile(ctx context.Context) error {
	outcome, err := transfer.Receive(ctx, j.workerConn, j.destPath, j.nPackets, j.nDoneRecv, func(n int) {
		j.nDoneRecv = n
	})
	if outcome != protocol.Ok {
		return fmt.Errorf("receiving %s: outcome=%v: %w", j.filename, outcome, err)
	}
	return nil
}

func (j *Job) verifyAndBye() error {
	defer j.workerConn.Close()

	sum, hashErr := md5File(j.destPath)
	okMD5 := hashErr == nil && sum == j.expectedMD5

	checkPayload := protocol.PayloadCheckOK
	if !okMD5 {
		checkPayload = protocol.PayloadCheckKO
	}
	if err := protocol.WriteFrame(j.workerConn, protocol.NewString(protocol.MD5Check, checkPayload)); err != nil {
		return fmt.Errorf("sending reassembly check: %w", err)
	}
	if err := protocol.WriteFrame(j.workerConn, protocol.NewString(protocol.Disconnect, j.client.cfg.Username)); err != nil {
		return fmt.Errorf("sending BYE: %w", err)
	}

	if hashErr != nil {
		return fmt.Errorf("hashing received file %s: %w", j.destPath, hashErr)
	}
	if !okMD5 {
		return fmt.Errorf("reassembly mismatch for %s: got %s want %s", j.filename, sum, j.expectedMD5)
	}
	return nil
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
