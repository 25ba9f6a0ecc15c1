package store

import (
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "0.cub"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendReadRoundTrip(t *testing.T) {
	s := openTemp(t)

	offset, err := s.Append(TagValue, []byte("hello world"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	tag, payload, err := s.ReadAt(offset)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if tag != TagValue {
		t.Fatalf("tag = %v, want TagValue", tag)
	}
	if string(payload) != "hello world" {
		t.Fatalf("payload = %q, want %q", payload, "hello world")
	}
}

func TestReadAtDetectsCorruption(t *testing.T) {
	s := openTemp(t)

	offset, err := s.Append(TagValue, []byte("payload"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Flip a byte in the payload region directly on the file.
	f, err := os.OpenFile(s.Path(), os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.WriteAt([]byte{'X'}, offset+5); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	if _, _, err := s.ReadAt(offset); err == nil {
		t.Fatalf("expected checksum error after corruption")
	}
}

func TestLatestHeaderEmptyFile(t *testing.T) {
	s := openTemp(t)

	_, _, found, err := s.LatestHeader()
	if err != nil {
		t.Fatalf("LatestHeader: %v", err)
	}
	if found {
		t.Fatalf("expected no header on an empty file")
	}
}

func TestLatestHeaderFindsMostRecentCommit(t *testing.T) {
	s := openTemp(t)

	valOffset, err := s.Append(TagValue, []byte("v1"))
	if err != nil {
		t.Fatalf("Append value: %v", err)
	}
	if _, err := s.AppendHeader(valOffset, 1, 1); err != nil {
		t.Fatalf("AppendHeader 1: %v", err)
	}

	valOffset2, err := s.Append(TagValue, []byte("v2"))
	if err != nil {
		t.Fatalf("Append value 2: %v", err)
	}
	secondHeaderOffset, err := s.AppendHeader(valOffset2, 2, 2)
	if err != nil {
		t.Fatalf("AppendHeader 2: %v", err)
	}

	offset, header, found, err := s.LatestHeader()
	if err != nil {
		t.Fatalf("LatestHeader: %v", err)
	}
	if !found {
		t.Fatalf("expected a header to be found")
	}
	if offset != secondHeaderOffset {
		t.Fatalf("offset = %d, want %d", offset, secondHeaderOffset)
	}
	if header.RootOffset != valOffset2 || header.Size != 2 || header.Dirt != 2 {
		t.Fatalf("header = %+v, want root=%d size=2 dirt=2", header, valOffset2)
	}
}
