package draft

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/templui/formpipe/internal/model"
)

func sampleDraft() *Draft {
	return &Draft{
		SessionID: "0b6f7c1e-7a55-4f0c-9d3e-3f0f3b1f2a11",
		Responses: []model.Response{
			{QuestionID: "satisfaction-overall", Value: model.TextAnswer("satisfied")},
			{QuestionID: "satisfaction-liked", Value: model.ChoicesAnswer("speed", "price")},
		},
	}
}

func TestMemorySaveGetExpire(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newMemory(24*time.Hour, func() time.Time { return now })
	ctx := context.Background()

	if err := m.Save(ctx, sampleDraft()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Get(ctx, sampleDraft().SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.Responses, sampleDraft().Responses) {
		t.Fatalf("responses = %+v", got.Responses)
	}
	if !got.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("expires at = %v", got.ExpiresAt)
	}

	now = now.Add(24 * time.Hour)
	if _, err := m.Get(ctx, sampleDraft().SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired draft: err = %v", err)
	}
}

func TestMemoryDeleteAndSweep(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newMemory(time.Hour, func() time.Time { return now })
	ctx := context.Background()

	d := sampleDraft()
	_ = m.Save(ctx, d)
	if err := m.Delete(ctx, d.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, d.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: err = %v", err)
	}

	_ = m.Save(ctx, sampleDraft())
	now = now.Add(2 * time.Hour)
	m.sweep()
	if len(m.drafts) != 0 {
		t.Fatalf("sweep left %d drafts", len(m.drafts))
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedis(rdb, "draft", 24*time.Hour)
	ctx := context.Background()

	if err := store.Save(ctx, sampleDraft()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("draft:" + sampleDraft().SessionID); ttl != 24*time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	got, err := store.Get(ctx, sampleDraft().SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.Responses, sampleDraft().Responses) {
		t.Fatalf("responses = %+v", got.Responses)
	}

	mr.FastForward(24 * time.Hour)
	if _, err := store.Get(ctx, sampleDraft().SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: err = %v", err)
	}

	_ = store.Save(ctx, sampleDraft())
	if err := store.Delete(ctx, sampleDraft().SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("draft:" + sampleDraft().SessionID) {
		t.Fatal("key still present after delete")
	}
}
