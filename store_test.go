package relayq

import (
	"context"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("Expected miss without error, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "k", []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if string(value) != "value" {
		t.Errorf("Expected value, got %q", value)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("Expected miss after delete")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := []byte("value")
	_ = store.Set(ctx, "k", original)
	original[0] = 'X'

	stored, _, _ := store.Get(ctx, "k")
	if string(stored) != "value" {
		t.Error("Expected Set to copy the value")
	}

	stored[0] = 'Y'
	again, _, _ := store.Get(ctx, "k")
	if string(again) != "value" {
		t.Error("Expected Get to return a copy")
	}
}
