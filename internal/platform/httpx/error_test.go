package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("gift_unavailable", "content store unavailable\n", http.StatusServiceUnavailable).
		AsRetryable().
		WithDetails(map[string]any{"gift_id": "gft_1", "status": 999})
	WriteError(context.Background(), rec, err)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["retryable"] != true {
		t.Fatalf("expected retryable flag, got %v", payload)
	}
	if payload["message"] != "content store unavailable" {
		t.Fatalf("expected sanitised message, got %v", payload["message"])
	}
	if payload["status"] != float64(http.StatusServiceUnavailable) {
		t.Fatalf("details must not override status, got %v", payload["status"])
	}
	if payload["gift_id"] != "gft_1" {
		t.Fatalf("expected detail field, got %v", payload)
	}
}

func TestDecodeJSONRejectsUnknownAndTrailing(t *testing.T) {
	type body struct {
		Value string `json:"value"`
	}
	cases := []struct {
		raw    string
		wantOK bool
	}{
		{raw: `{"value":"ok"}`, wantOK: true},
		{raw: `{"value":"ok","x":1}`},
		{raw: `{"value":"ok"} {"x":1}`},
		{raw: `not json`},
	}
	for _, tc := range cases {
		raw, wantOK := tc.raw, tc.wantOK
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		var dst body
		err := DecodeJSON(httptest.NewRecorder(), req, 1024, &dst)
		if wantOK && err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
		if !wantOK && err == nil {
			t.Fatalf("%s: expected error", raw)
		}
	}
}
