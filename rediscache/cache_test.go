package rediscache

import (
	"context"
	"testing"
	"time"
)

var ctx = context.Background()

func TestMockCacheRoundTrip(t *testing.T) {
	cache := NewMockClient()

	if err := cache.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	found, v, err := cache.Get(ctx, "k")
	if err != nil || !found || v != "v" {
		t.Errorf("Get = (%v, %q, %v)", found, v, err)
	}

	found, _, err = cache.Get(ctx, "missing")
	if err != nil {
		t.Errorf("missing key should not error: %v", err)
	}
	if found {
		t.Error("missing key reported found")
	}
}

func TestMockCacheStruct(t *testing.T) {
	cache := NewMockClient()

	type record struct {
		Name  string
		Count int
	}
	if err := cache.SetStruct(ctx, "r", record{Name: "a", Count: 2}, time.Minute); err != nil {
		t.Fatalf("SetStruct failed: %v", err)
	}
	var got record
	found, err := cache.GetStruct(ctx, "r", &got)
	if err != nil || !found {
		t.Fatalf("GetStruct = (%v, %v)", found, err)
	}
	if got.Name != "a" || got.Count != 2 {
		t.Errorf("unexpected value: %+v", got)
	}

	deleted, err := cache.Delete(ctx, []string{"r", "missing"})
	if err != nil || !deleted {
		t.Errorf("Delete = (%v, %v)", deleted, err)
	}
	found, err = cache.GetStruct(ctx, "r", &got)
	if found || err != nil {
		t.Error("deleted key still readable")
	}
}
