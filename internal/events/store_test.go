package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreAppendReadAndFilters(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()

	base := time.Now().Add(-2 * time.Hour).UTC()
	seed := []Event{
		{Timestamp: base, SessionID: "s1", ServerRef: "aaa", EventType: ConnectRequested},
		{Timestamp: base.Add(10 * time.Minute), SessionID: "s1", ServerRef: "aaa", EventType: ConnectSucceeded, Port: 1080},
		{Timestamp: base.Add(20 * time.Minute), SessionID: "s2", ServerRef: "bbb", EventType: ConnectFailed},
	}
	for _, evt := range seed {
		if err := s.Append(evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	serverOnly, err := s.Read(Query{ServerRef: "aaa"})
	if err != nil {
		t.Fatalf("read server: %v", err)
	}
	if len(serverOnly) != 2 {
		t.Fatalf("expected 2 events for aaa, got %d", len(serverOnly))
	}

	failed, err := s.Read(Query{EventType: ConnectFailed})
	if err != nil {
		t.Fatalf("read type: %v", err)
	}
	if len(failed) != 1 || failed[0].SessionID != "s2" {
		t.Fatalf("unexpected type result: %+v", failed)
	}

	limited, err := s.Read(Query{Limit: 1})
	if err != nil {
		t.Fatalf("read limit: %v", err)
	}
	if len(limited) != 1 || limited[0].SessionID != "s2" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	since, err := s.Read(Query{Since: base.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("read since: %v", err)
	}
	if len(since) != 1 || since[0].ServerRef != "bbb" {
		t.Fatalf("unexpected since result: %+v", since)
	}
}

func TestReadSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	s := NewStore()
	if err := s.Append(Event{EventType: Disconnected}); err != nil {
		t.Fatalf("append: %v", err)
	}
	path := filepath.Join(dir, "proxypal", "events.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()
	if err := s.Append(Event{EventType: OrphansSwept}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 valid events, got %d", len(got))
	}
}

func TestReadMissingJournal(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	got, err := NewStore().Read(Query{})
	if err != nil || got != nil {
		t.Fatalf("expected empty read, got %v %v", got, err)
	}
}
