package ssevents

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// ============================================================================
// ParseFrame
// ============================================================================

func TestParseFrame(t *testing.T) {
	t.Run("notification", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","method":"vulnerability-created","params":{"timestamp":"2024-06-01T12:00:00Z","id":"V-1"}}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n, ok := f.(Notification)
		if !ok {
			t.Fatalf("expected Notification, got %T", f)
		}
		if n.Method != "vulnerability-created" {
			t.Errorf("expected method vulnerability-created, got %q", n.Method)
		}
		if !strings.Contains(string(n.Params), `"V-1"`) {
			t.Errorf("params not preserved: %s", n.Params)
		}
	})

	t.Run("server request", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","method":"heartbeat","id":"h1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r, ok := f.(ServerRequest)
		if !ok {
			t.Fatalf("expected ServerRequest, got %T", f)
		}
		if r.Method != "heartbeat" || r.ID.String() != "h1" {
			t.Errorf("unexpected request: %+v", r)
		}
	})

	t.Run("result", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","result":["vulnerability-created"],"id":"r1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r, ok := f.(Result)
		if !ok {
			t.Fatalf("expected Result, got %T", f)
		}
		if r.ID.String() != "r1" {
			t.Errorf("expected id r1, got %q", r.ID.String())
		}
		var events []string
		if err := json.Unmarshal(r.Result, &events); err != nil || len(events) != 1 || events[0] != "vulnerability-created" {
			t.Errorf("unexpected result %s", r.Result)
		}
	})

	t.Run("null result is still a result", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","result":null,"id":"r1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := f.(Result); !ok {
			t.Fatalf("expected Result, got %T", f)
		}
	})

	t.Run("error result", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"unknown event"},"id":"r1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		e, ok := f.(ErrorResult)
		if !ok {
			t.Fatalf("expected ErrorResult, got %T", f)
		}
		if e.Error.Code != -32602 || e.Error.Message != "unknown event" {
			t.Errorf("unexpected error object: %+v", e.Error)
		}
	})

	t.Run("string error object", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","error":"boom","id":"r1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		e := f.(ErrorResult)
		if e.Error.Message != `"boom"` {
			t.Errorf("expected raw message, got %q", e.Error.Message)
		}
	})

	t.Run("numeric id", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","method":"heartbeat","id":42}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r := f.(ServerRequest)
		if r.ID.String() != "42" {
			t.Errorf("expected id 42, got %q", r.ID.String())
		}
		out, _ := json.Marshal(r.ID)
		if string(out) != "42" {
			t.Errorf("numeric id must round-trip as a number, got %s", out)
		}
	})
}

func TestParseFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no known shape", `{"foo":"bar"}`},
		{"shape without version", `{"method":"heartbeat","id":"h1"}`},
		{"wrong version", `{"jsonrpc":"1.0","method":"heartbeat","id":"h1"}`},
		{"result without id", `{"jsonrpc":"2.0","result":true}`},
		{"error without id", `{"jsonrpc":"2.0","error":{"code":1,"message":"x"}}`},
		{"null id", `{"jsonrpc":"2.0","result":true,"id":null}`},
		{"object id", `{"jsonrpc":"2.0","result":true,"id":{}}`},
		{"empty method", `{"jsonrpc":"2.0","method":""}`},
		{"not json", `not json`},
		{"array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.raw))
			if err == nil {
				t.Fatalf("expected error, got %T", f)
			}
			var mfe *MalformedFrameError
			if !errors.As(err, &mfe) {
				t.Fatalf("expected *MalformedFrameError, got %T", err)
			}
			if string(mfe.Raw) != tt.raw {
				t.Errorf("raw frame not kept: %q", mfe.Raw)
			}
		})
	}
}

// ============================================================================
// Outbound Messages
// ============================================================================

func TestRequest_MarshalJSON(t *testing.T) {
	req := &Request{
		Method: "subscribe",
		Params: SubscriptionSpec{Events: []string{"vulnerability-created"}, From: "2024-01-01T00:00:00Z"},
		ID:     "r1",
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","method":"subscribe","params":{"events":["vulnerability-created"],"from":"2024-01-01T00:00:00Z"},"id":"r1"}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestResultEnvelope_EchoesID(t *testing.T) {
	for _, raw := range []string{`"h1"`, `7`} {
		var id RequestID
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		data, _ := json.Marshal(resultEnvelope{JSONRPC: ProtocolVersion, Result: "now", ID: id})
		want := `{"jsonrpc":"2.0","result":"now","id":` + raw + `}`
		if string(data) != want {
			t.Errorf("got %s, want %s", data, want)
		}
	}
}

func TestNewRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newRequestID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
