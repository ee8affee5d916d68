package cache

import (
	"context"
	"testing"
	"time"
)

func TestStore_GetMissThenHit(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, _, ok, err := s.Get(ctx, BucketSERP, "k"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Upsert(ctx, BucketSERP, "k", []byte("v1")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	payload, createdAt, ok, err := s.Get(ctx, BucketSERP, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(payload) != "v1" {
		t.Fatalf("unexpected payload: %q", payload)
	}
	if time.Since(createdAt) > time.Minute {
		t.Fatalf("created_at not recent: %v", createdAt)
	}
}

func TestStore_UpsertOverwrites(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	_ = s.Upsert(ctx, BucketPage, "k", []byte("old"))
	_ = s.Upsert(ctx, BucketPage, "k", []byte("new"))
	payload, _, ok, _ := s.Get(ctx, BucketPage, "k")
	if !ok || string(payload) != "new" {
		t.Fatalf("expected overwrite, got ok=%v payload=%q", ok, payload)
	}
}

func TestStore_BucketsAreIsolated(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	_ = s.Upsert(ctx, BucketSERP, "k", []byte("serp"))
	if _, _, ok, _ := s.Get(ctx, BucketPage, "k"); ok {
		t.Fatalf("page bucket should not see serp entry")
	}
}

func TestBucket_StaleEntryIsMiss(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	b := &Bucket{Store: s, Name: BucketSERP, TTL: time.Nanosecond}
	b.Put(ctx, "k", []byte("v"))
	time.Sleep(2 * time.Second) // created_at has second granularity
	if _, ok := b.Get(ctx, "k"); ok {
		t.Fatalf("expected stale entry to read as miss")
	}
}

func TestBucket_NilStoreIsNoop(t *testing.T) {
	var b *Bucket
	if _, ok := b.Get(context.Background(), "k"); ok {
		t.Fatalf("nil bucket must miss")
	}
	b.Put(context.Background(), "k", []byte("v")) // must not panic

	b2 := &Bucket{}
	if _, ok := b2.Get(context.Background(), "k"); ok {
		t.Fatalf("bucket without store must miss")
	}
	b2.Put(context.Background(), "k", []byte("v"))
}

func TestStore_PurgeOlderThan(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	_ = s.Upsert(ctx, BucketSERP, "k", []byte("v"))
	n, err := s.PurgeOlderThan(ctx, BucketSERP, -time.Hour) // cutoff in the future
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	if _, _, ok, _ := s.Get(ctx, BucketSERP, "k"); ok {
		t.Fatalf("expected entry gone after purge")
	}
}
