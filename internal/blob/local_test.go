package blob

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	key := DocumentKey("p1", "d1")
	if err := s.Put(ctx, key, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get = %q, want hello", got)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestLocalStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	for _, k := range []string{DocumentKey("p1", "a"), DocumentKey("p1", "b"), DocumentKey("p2", "c")} {
		if err := s.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	if err := s.DeletePrefix(ctx, ProfilePrefix("p1")); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, err := s.Get(ctx, DocumentKey("p1", "a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("p1/a survived prefix delete: %v", err)
	}
	if _, err := s.Get(ctx, DocumentKey("p2", "c")); err != nil {
		t.Errorf("p2/c removed: %v", err)
	}
}

func TestCheckKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"profiles/p/documents/d", true},
		{"", false},
		{"/etc/passwd", false},
		{"profiles/../../x", false},
	}
	for _, tt := range tests {
		err := checkKey(tt.key)
		if (err == nil) != tt.ok {
			t.Errorf("checkKey(%q) err = %v, want ok=%v", tt.key, err, tt.ok)
		}
	}
}
