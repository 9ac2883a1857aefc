package queue

import (
	"errors"
	"reflect"
	"testing"
)

func TestHandoffRoundTrip(t *testing.T) {
	h := Handoff{
		UserID:     "user-123",
		SessionID:  "session-456",
		Remaining:  7,
		RequestID:  "request-789",
		EnqueuedAt: "2026-08-01T22:00:00Z",
		Version:    1,
	}

	payload, err := EncodeHandoff(h)
	if err != nil {
		t.Fatalf("encode handoff: %v", err)
	}

	got, err := DecodeHandoff(payload)
	if err != nil {
		t.Fatalf("decode handoff: %v", err)
	}

	if !reflect.DeepEqual(got, h) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestDecodeHandoffRejectsMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"bad json", `{not-json`},
		{"missing user", `{"sessionId":"s-1","quotaRemaining":3}`},
		{"missing session", `{"userId":"u-1","quotaRemaining":3}`},
		{"negative remaining", `{"userId":"u-1","sessionId":"s-1","quotaRemaining":-2}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeHandoff([]byte(tc.payload)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}
