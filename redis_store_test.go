package ssevents

import (
	"context"
	"testing"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisConfig{Addr: "127.0.0.1:6379", DB: 2, KeyPrefix: "ssevents-test:"})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()
	defer s.client.Del(ctx, s.key(CursorKey))

	if _, ok, err := s.Get(ctx, CursorKey); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, CursorKey, "2024-06-01T12:00:00Z"); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := s.Get(ctx, CursorKey)
	if err != nil || !ok || v != "2024-06-01T12:00:00Z" {
		t.Fatalf("got %q ok=%v err=%v", v, ok, err)
	}
	if err := s.Delete(ctx, CursorKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, CursorKey); ok {
		t.Error("value present after delete")
	}
}
