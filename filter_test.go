package ssevents

import (
	"context"
	"encoding/json"
	"testing"
)

func TestExprFilter_Match(t *testing.T) {
	f, err := NewExprFilter(`method == "vulnerability-created" && params.priority in ["Critical", "High"]`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	tests := []struct {
		name   string
		method string
		params string
		want   bool
	}{
		{"matching", "vulnerability-created", `{"priority":"Critical"}`, true},
		{"wrong priority", "vulnerability-created", `{"priority":"Low"}`, false},
		{"wrong method", "asset-updated", `{"priority":"Critical"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Match(tt.method, json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExprFilter_CompileErrors(t *testing.T) {
	for _, src := range []string{`method ==`, `"not a bool"`} {
		if _, err := NewExprFilter(src); err == nil {
			t.Errorf("expected compile error for %q", src)
		}
	}
}

func TestExprFilter_Wrap(t *testing.T) {
	f, err := NewExprFilter(`method startsWith "vulnerability-"`)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	h := f.Wrap(func(_ context.Context, method string, _ json.RawMessage) error {
		got = append(got, method)
		return nil
	})
	for _, m := range []string{"vulnerability-created", "asset-updated", "vulnerability-closed"} {
		if err := h(context.Background(), m, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	if len(got) != 2 || got[0] != "vulnerability-created" || got[1] != "vulnerability-closed" {
		t.Errorf("unexpected deliveries %v", got)
	}
}
