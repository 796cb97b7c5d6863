// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/distort-io/distort/internal/checkpoint"
	"github.com/distort-io/distort/internal/distortion"
	"github.com/distort-io/distort/internal/logging"
	"github.com/distort-io/distort/internal/protocol"
	"github.com/distort-io/distort/internal/transfer"
)

// jobSession carries one job through RecvMeta..Bye on one accepted
// connection. It is not reused across jobs or shared across goroutines.
type jobSession struct {
	w        *Worker
	conn     net.Conn
	logger   *slog.Logger
	meta     protocol.DistortMetadata
	rec      checkpoint.Record
	workPath string
}

// handleJob drives one Client connection through the full job state
// machine. It never panics on a remote fault: every stage that fails
// returns, leaving the durable checkpoint at its last-saved point so a
// future connection (same worker, reconnecting worker, or a park/adopt
// cycle) can resume.
func (w *Worker) handleJob(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	corr := xid.New().String()

	log, logCloser, _, err := logging.NewSessionLogger(w.logger, w.cfg.FolderPath+"/.job-logs", "worker", corr)
	if err != nil {
		w.logger.Warn("opening per-job debug log", "corr", corr, "error", err)
		log, logCloser = w.logger, io.NopCloser(nil)
	}
	log = log.With("corr", corr)
	defer logCloser.Close()

	meta, ok := w.recvMeta(conn, log)
	if !ok {
		return
	}
	log = log.With("username", meta.Username, "filename", meta.Filename)

	sess := &jobSession{
		w:        w,
		conn:     conn,
		logger:   log,
		meta:     *meta,
		workPath: filepath.Join(w.cfg.FolderPath, meta.Username+"_"+meta.Filename),
	}

	rec, err := sess.adoptCheckpoint()
	if err != nil {
		log.Error("adopting checkpoint", "error", err)
		return
	}
	sess.rec = rec

	if err := sess.run(ctx); err != nil {
		if errors.Is(err, transfer.ErrInterrupted) {
			sess.onInterrupted()
			return
		}
		log.Warn("job ended without completing", "error", err)
		return
	}

	logging.RemoveSessionLog(w.cfg.FolderPath+"/.job-logs", "worker", corr)
}

// recvMeta is the RecvMeta state: it owns decoding and validating the
// REQ_DISTORT frame, before a jobSession (which needs the decoded metadata
// to exist) can be built.
func (w *Worker) recvMeta(conn net.Conn, log *slog.Logger) (*protocol.DistortMetadata, bool) {
	f, outcome, err := protocol.ReadFrame(conn)
	if outcome != protocol.Ok {
		log.Warn("reading REQ_DISTORT", "outcome", outcome, "error", err)
		return nil, false
	}
	if f.Type != protocol.ReqDistort {
		log.Warn("expected REQ_DISTORT", "type", f.Type.String())
		protocol.WriteErr(conn)
		return nil, false
	}

	meta, err := protocol.DecodeDistortMetadata(f.Data)
	if err != nil {
		log.Warn("malformed REQ_DISTORT", "error", err)
		protocol.WriteFrame(conn, protocol.NewString(protocol.ReqDistort, protocol.PayloadConnKO))
		return nil, false
	}
	if err := protocol.WriteFrame(conn, protocol.New(protocol.ReqDistort, nil)); err != nil {
		log.Warn("acking REQ_DISTORT", "error", err)
		return nil, false
	}
	return meta, true
}

// adoptCheckpoint is the AdoptCheckpoint state: attach to an existing
// checkpoint and pull back its parked file, or start a fresh one.
func (s *jobSession) adoptCheckpoint() (checkpoint.Record, error) {
	rec, ok, err := s.w.checks.Load(s.meta.Username, s.meta.Filename)
	if err != nil {
		return checkpoint.Record{}, err
	}
	if !ok {
		rec = checkpoint.Record{
			Username: s.meta.Username,
			Filename: s.meta.Filename,
			Stage:    checkpoint.StageRecvFile,
			NPackets: transfer.PacketCount(s.meta.Filesize),
			NDone:    0,
		}
		return rec, s.w.checks.Save(rec)
	}

	parked := filepath.Join(s.w.cfg.ParkingDir, s.meta.Username+"_"+s.meta.Filename)
	if _, err := os.Stat(parked); err == nil {
		if err := os.Rename(parked, s.workPath); err != nil {
			return checkpoint.Record{}, fmt.Errorf("adopting parked file %s: %w", parked, err)
		}
		s.logger.Info("adopted parked job", "stage", rec.Stage, "n_done", rec.NDone)
	}
	return rec, nil
}

// run drives every remaining stage in order, skipping any stage the
// adopted checkpoint shows already complete.
func (s *jobSession) run(ctx context.Context) error {
	if s.rec.Stage <= checkpoint.StageRecvFile {
		if err := s.recvFile(ctx); err != nil {
			return err
		}
	}
	if s.rec.Stage <= checkpoint.StageCheckMD5 {
		if err := s.verify(); err != nil {
			return err
		}
	}
	if s.rec.Stage <= checkpoint.StageDistort {
		if err := s.distort(); err != nil {
			return err
		}
	}
	if s.rec.Stage <= checkpoint.StageSendMetadata {
		if err := s.sendMeta(); err != nil {
			return err
		}
	}
	if s.rec.Stage <= checkpoint.StageSendFile {
		if err := s.sendFile(ctx); err != nil {
			return err
		}
	}
	if err := s.awaitCheck(); err != nil {
		return err
	}
	return s.bye()
}

func (s *jobSession) save() error {
	return s.w.checks.Save(s.rec)
}

// onProgress persists n_done after every packet, which is what lets a
// resumed transfer re-enter at the exact packet the last attempt reached.
func (s *jobSession) onProgress(nDone int) {
	s.rec.NDone = nDone
	if err := s.save(); err != nil {
		s.logger.Warn("saving checkpoint", "error", err)
	}
}

func (s *jobSession) recvFile(ctx context.Context) error {
	outcome, err := transfer.Receive(ctx, s.conn, s.workPath, s.rec.NPackets, s.rec.NDone, s.onProgress)
	if outcome == protocol.Interrupted {
		return transfer.ErrInterrupted
	}
	if outcome != protocol.Ok {
		return fmt.Errorf("receiving file: outcome=%v: %w", outcome, err)
	}
	s.rec.Stage = checkpoint.StageCheckMD5
	s.rec.NDone = 0
	return s.save()
}

// verify is the Verify state: it both checks reassembly integrity and
// reports the result to the Client, since the Client's AwaitCheck state
// depends on exactly this frame.
func (s *jobSession) verify() error {
	sum, err := md5File(s.workPath)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", s.workPath, err)
	}
	if sum != s.meta.MD5 {
		protocol.WriteFrame(s.conn, protocol.NewString(protocol.MD5Check, protocol.PayloadCheckKO))
		return fmt.Errorf("reassembly mismatch for %s: got %s want %s", s.meta.Filename, sum, s.meta.MD5)
	}
	if err := protocol.WriteFrame(s.conn, protocol.NewString(protocol.MD5Check, protocol.PayloadCheckOK)); err != nil {
		return fmt.Errorf("sending CHECK_OK: %w", err)
	}
	s.rec.Stage = checkpoint.StageDistort
	return s.save()
}

func (s *jobSession) distort() error {
	out := s.workPath + ".distorted"

	var err error
	if s.w.cfg.Class == protocol.ClassText {
		err = distortion.DistortText(s.workPath, out, s.meta.Factor)
	} else {
		err = distortion.DistortMedia(s.workPath, out, extOf(s.meta.Filename), s.meta.Factor)
	}
	if err != nil {
		return fmt.Errorf("distorting %s: %w", s.meta.Filename, err)
	}
	if err := os.Rename(out, s.workPath); err != nil {
		return fmt.Errorf("replacing %s with distorted output: %w", s.workPath, err)
	}

	s.rec.Stage = checkpoint.StageSendMetadata
	return s.save()
}

func (s *jobSession) sendMeta() error {
	info, err := os.Stat(s.workPath)
	if err != nil {
		return fmt.Errorf("stating %s: %w", s.workPath, err)
	}
	sum, err := md5File(s.workPath)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", s.workPath, err)
	}

	payload := protocol.EncodeMetaOut(protocol.MetaOutPayload{FilesizeOut: info.Size(), MD5Out: sum})
	if err := protocol.WriteFrame(s.conn, protocol.New(protocol.MetaOut, payload)); err != nil {
		return fmt.Errorf("sending META_OUT: %w", err)
	}

	s.rec.Stage = checkpoint.StageSendFile
	s.rec.NPackets = transfer.PacketCount(info.Size())
	s.rec.NDone = 0
	return s.save()
}

func (s *jobSession) sendFile(ctx context.Context) error {
	outcome, err := transfer.Send(ctx, s.conn, s.workPath, s.rec.NPackets, s.rec.NDone, s.onProgress)
	if outcome == protocol.Interrupted {
		return transfer.ErrInterrupted
	}
	if outcome != protocol.Ok {
		return fmt.Errorf("sending file: outcome=%v: %w", outcome, err)
	}
	s.rec.Stage = checkpoint.StageFinished
	return s.save()
}

func (s *jobSession) awaitCheck() error {
	f, outcome, err := protocol.ReadFrame(s.conn)
	if outcome != protocol.Ok {
		return fmt.Errorf("awaiting client check: outcome=%v: %w", outcome, err)
	}
	if f.Type != protocol.MD5Check {
		return fmt.Errorf("expected MD5_CHECK from client, got %s", f.Type)
	}
	if f.Text() == protocol.PayloadCheckKO {
		s.logger.Warn("client reported reassembly mismatch on the distorted file")
	}
	return nil
}

func (s *jobSession) bye() error {
	f, outcome, err := protocol.ReadFrame(s.conn)
	if outcome != protocol.Ok && outcome != protocol.PeerClosed {
		return fmt.Errorf("awaiting BYE: outcome=%v: %w", outcome, err)
	}
	if outcome == protocol.Ok && f.Type != protocol.Disconnect {
		s.logger.Warn("expected DISCONNECT to close out the job", "type", f.Type.String())
	}

	if err := s.w.checks.Delete(s.meta.Username, s.meta.Filename); err != nil {
		s.logger.Warn("removing checkpoint", "error", err)
	}
	if err := os.Remove(s.workPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing working file", "error", err)
	}
	s.logger.Info("job finished")
	return nil
}

// onInterrupted is the SIGINT shutdown path: park the job for a surviving
// worker of the same class to adopt, or discard it if this was the last one.
func (s *jobSession) onInterrupted() {
	if s.w.classReg.IsLast() {
		s.discard()
		return
	}
	s.park()
}

func (s *jobSession) park() {
	dst := filepath.Join(s.w.cfg.ParkingDir, s.meta.Username+"_"+s.meta.Filename)
	if err := os.Rename(s.workPath, dst); err != nil && !os.IsNotExist(err) {
		s.logger.Error("parking job", "error", err)
		return
	}
	s.logger.Info("job parked for a surviving worker", "stage", s.rec.Stage, "n_done", s.rec.NDone)
}

func (s *jobSession) discard() {
	if err := os.Remove(s.workPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("discarding working file", "error", err)
	}
	if err := s.w.checks.Delete(s.meta.Username, s.meta.Filename); err != nil {
		s.logger.Warn("discarding checkpoint", "error", err)
	}
	s.logger.Info("job discarded: last worker of class shutting down")
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

func extOf(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return filename[i+1:]
}
