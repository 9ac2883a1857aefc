package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"applypilot-backend/internal/shared/storage/object"
	"applypilot-backend/internal/shared/telemetry"
	"applypilot-backend/internal/shared/util"
)

// Service wraps the store with sanitization, export rendering and transcript
// archival on clear.
type Service struct {
	Store   Store
	Objects object.ObjectStore // optional; transcripts archived here on clear
}

// Append records one entry. Action and details are collapsed to single lines
// so the export format stays one entry per line.
func (s *Service) Append(ctx context.Context, sessionID, action, details, level string, metadata map[string]string) (Entry, error) {
	if s == nil || s.Store == nil {
		return Entry{}, fmt.Errorf("activity: service not configured")
	}
	if sessionID == "" {
		return Entry{}, fmt.Errorf("activity: session id required")
	}
	e := Entry{
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Action:    util.SanitizeLine(action),
		Details:   util.SanitizeLine(details),
		Level:     normalizeLevel(level),
		Metadata:  metadata,
	}
	return s.Store.Append(ctx, e)
}

// Tail returns the most recent limit entries oldest first. limit <= 0 means
// everything retained.
func (s *Service) Tail(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	return s.Store.Tail(ctx, sessionID, limit)
}

// Export renders the retained transcript, one line per entry, oldest first.
func (s *Service) Export(ctx context.Context, sessionID string) (string, error) {
	entries, err := s.Store.Tail(ctx, sessionID, 0)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.FormatLine())
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Clear deletes a session's entries and reports how many were removed. When
// an object store is configured the transcript is archived first; archive
// failures do not block the clear.
func (s *Service) Clear(ctx context.Context, userID, sessionID string) (int64, error) {
	if s.Objects != nil {
		text, err := s.Export(ctx, sessionID)
		switch {
		case err != nil:
			telemetry.Warn("activity transcript export failed", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		case text != "":
			key := transcriptKey(userID, sessionID, time.Now().UTC())
			if _, err := s.Objects.SaveWithKey(ctx, key, "text/plain; charset=utf-8", strings.NewReader(text)); err != nil {
				telemetry.Warn("activity transcript archive failed", map[string]any{
					"session_id":  sessionID,
					"storage_key": key,
					"error":       err.Error(),
				})
			}
		}
	}
	return s.Store.Clear(ctx, sessionID)
}

func transcriptKey(userID, sessionID string, at time.Time) string {
	return fmt.Sprintf("transcripts/%s/%s_%s.log", util.HashUserKey(userID), sessionID, at.Format("20060102T150405Z"))
}
