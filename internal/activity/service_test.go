package activity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"applypilot-backend/internal/shared/storage/object/local"
	"applypilot-backend/internal/shared/util"
)

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(0)}

	var lastID int64
	for i := 0; i < 10; i++ {
		e, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if e.ID <= lastID {
			t.Fatalf("expected id above %d, got %d", lastID, e.ID)
		}
		lastID = e.ID
	}
}

func TestTailReturnsMostRecentOldestFirst(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(0)}

	for i := 0; i < 5; i++ {
		if _, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := svc.Tail(context.Background(), "s-1", 3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != 3 || entries[1].ID != 4 || entries[2].ID != 5 {
		t.Fatalf("expected ids 3,4,5 oldest first, got %d,%d,%d", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestTailOrderUnderConcurrentAppends(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(0)}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	entries, err := svc.Tail(context.Background(), "s-1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 200 {
		t.Fatalf("expected 200 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			t.Fatalf("ids out of order at %d: %d then %d", i, entries[i-1].ID, entries[i].ID)
		}
	}
}

func TestRetentionEvictsOldestKeepsIDs(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(5)}

	for i := 0; i < 12; i++ {
		if _, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := svc.Tail(context.Background(), "s-1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected retention cap 5, got %d", len(entries))
	}
	if entries[0].ID != 8 || entries[4].ID != 12 {
		t.Fatalf("expected ids 8..12 after eviction, got %d..%d", entries[0].ID, entries[4].ID)
	}

	e, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil)
	if err != nil {
		t.Fatalf("append after eviction: %v", err)
	}
	if e.ID != 13 {
		t.Fatalf("expected id 13 after eviction, got %d", e.ID)
	}
}

func TestClearReturnsCountAndKeepsHighWaterMark(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(0)}

	for i := 0; i < 4; i++ {
		if _, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	deleted, err := svc.Clear(context.Background(), "user-1", "s-1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("expected 4 deleted, got %d", deleted)
	}

	entries, err := svc.Tail(context.Background(), "s-1", 0)
	if err != nil {
		t.Fatalf("tail after clear: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty tail after clear, got %d entries", len(entries))
	}

	e, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil)
	if err != nil {
		t.Fatalf("append after clear: %v", err)
	}
	if e.ID != 5 {
		t.Fatalf("expected id 5 above the cleared mark, got %d", e.ID)
	}

	deleted, err = svc.Clear(context.Background(), "user-1", "unknown-session")
	if err != nil {
		t.Fatalf("clear unknown: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deleted for unknown session, got %d", deleted)
	}
}

func TestClearDuringConcurrentAppends(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(0)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, _ = svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil)
		}
	}()

	for i := 0; i < 20; i++ {
		if _, err := svc.Clear(context.Background(), "user-1", "s-1"); err != nil {
			t.Fatalf("clear %d: %v", i, err)
		}
	}
	<-done

	entries, err := svc.Tail(context.Background(), "s-1", 0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			t.Fatalf("ids out of order after racing clears: %d then %d", entries[i-1].ID, entries[i].ID)
		}
	}

	if _, err := svc.Clear(context.Background(), "user-1", "s-1"); err != nil {
		t.Fatalf("final clear: %v", err)
	}
	e, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil)
	if err != nil {
		t.Fatalf("append after final clear: %v", err)
	}
	if e.ID != 101 {
		t.Fatalf("expected id 101 above all prior allocations, got %d", e.ID)
	}
}

func TestExportFormat(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(0)}

	ts := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	if _, err := svc.Store.Append(context.Background(), Entry{
		SessionID: "s-1",
		Timestamp: ts,
		Action:    "Application submitted",
		Details:   "Backend Engineer at Acme",
		Level:     LevelSuccess,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.Store.Append(context.Background(), Entry{
		SessionID: "s-1",
		Timestamp: ts.Add(time.Minute),
		Action:    "Session paused",
		Details:   "Paused by user",
		Level:     LevelInfo,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	text, err := svc.Export(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := "[2025-03-10T14:30:00Z] Application submitted: Backend Engineer at Acme\n" +
		"[2025-03-10T14:31:00Z] Session paused: Paused by user\n"
	if text != want {
		t.Fatalf("export mismatch:\n got: %q\nwant: %q", text, want)
	}
}

func TestAppendSanitizesToSingleLine(t *testing.T) {
	svc := &Service{Store: NewMemoryStore(0)}

	e, err := svc.Append(context.Background(), "s-1", "step", "line one\nline two", LevelInfo, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if strings.ContainsAny(e.Details, "\n\r") {
		t.Fatalf("expected details collapsed to one line, got %q", e.Details)
	}
}

func TestClearArchivesTranscript(t *testing.T) {
	dir := t.TempDir()
	svc := &Service{Store: NewMemoryStore(0), Objects: local.New(dir)}

	if _, err := svc.Append(context.Background(), "s-1", "step", "detail", LevelInfo, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	deleted, err := svc.Clear(context.Background(), "user-1", "s-1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	archiveDir := filepath.Join(dir, "transcripts", util.HashUserKey("user-1"))
	files, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one archived transcript, got %d", len(files))
	}
	if !strings.HasPrefix(files[0].Name(), "s-1_") || !strings.HasSuffix(files[0].Name(), ".log") {
		t.Fatalf("unexpected archive name %q", files[0].Name())
	}
}
