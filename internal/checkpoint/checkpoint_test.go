// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package checkpoint

import (
	"testing"
)

func TestStore_SaveLoad(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	rec := Record{Username: "bob", Filename: "report.txt", Stage: StageDistort, NPackets: 10, NDone: 4}
	if err := s.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load("bob", "report.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected checkpoint to exist")
	}
	if got != rec {
		t.Fatalf("Load = %+v, want %+v", got, rec)
	}
}

func TestStore_LoadMissingIsNotError(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, ok, err := s.Load("nobody", "nothing.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing checkpoint")
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Save(Record{Username: "bob", Filename: "f.txt", Stage: StageRecvFile, NPackets: 5, NDone: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(Record{Username: "bob", Filename: "f.txt", Stage: StageSendFile, NPackets: 5, NDone: 5}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Load("bob", "f.txt")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Stage != StageSendFile || got.NDone != 5 {
		t.Fatalf("expected the later save to win, got %+v", got)
	}
}

func TestStore_Delete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(Record{Username: "bob", Filename: "f.txt", NPackets: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("bob", "f.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("bob", "f.txt"); err != nil {
		t.Fatalf("Delete of missing checkpoint should not error: %v", err)
	}

	_, ok, err := s.Load("bob", "f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected checkpoint to be gone after Delete")
	}
}

func TestStore_List(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	recs := []Record{
		{Username: "bob", Filename: "a.txt", NPackets: 3},
		{Username: "alice", Filename: "b.png", NPackets: 7},
	}
	for _, r := range recs {
		if err := s.Save(r); err != nil {
			t.Fatal(err)
		}
	}

	listed, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != len(recs) {
		t.Fatalf("List returned %d records, want %d", len(listed), len(recs))
	}
}

func TestRecord_ProgressPercent(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want float64
	}{
		{"no packets", Record{NPackets: 0}, 0},
		{"mid receive", Record{Stage: StageRecvFile, NPackets: 10, NDone: 5}, 25},
		{"receive done, metadata pending", Record{Stage: StageSendMetadata, NPackets: 10, NDone: 10}, 50},
		{"mid send", Record{Stage: StageSendFile, NPackets: 10, NDone: 5}, 75},
		{"finished", Record{Stage: StageFinished, NPackets: 10, NDone: 10}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.ProgressPercent(); got != tt.want {
				t.Errorf("ProgressPercent() = %v, want %v", got, tt.want)
			}
		})
	}
}
