package velocity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type failingCache struct {
	domain.Cache
}

func (failingCache) IncrementCounter(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestVelocityService(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(lru, time.Hour)
	ctx := context.Background()

	t.Run("CountsPerApplicant", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := svc.Record(ctx, "applicant-001")
			if err != nil {
				t.Fatalf("Record failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}

		other, _ := svc.Record(ctx, "applicant-002")
		if other != 1 {
			t.Errorf("expected separate count for applicant-002, got %d", other)
		}
	})

	t.Run("RequiresApplicantID", func(t *testing.T) {
		if _, err := svc.Record(ctx, ""); err == nil {
			t.Error("expected error for empty applicant id")
		}
	})

	t.Run("WindowExpiry", func(t *testing.T) {
		short := NewService(lru, 20*time.Millisecond)
		_, _ = short.Record(ctx, "applicant-003")
		time.Sleep(40 * time.Millisecond)

		got, _ := short.Record(ctx, "applicant-003")
		if got != 1 {
			t.Errorf("expected window reset, got %d", got)
		}
	})

	t.Run("DefaultWindow", func(t *testing.T) {
		if w := NewService(lru, 0).Window(); w != DefaultWindow {
			t.Errorf("expected default window, got %v", w)
		}
	})

	t.Run("CacheError", func(t *testing.T) {
		_, err := NewService(failingCache{}, time.Hour).Record(ctx, "applicant-004")
		if err == nil {
			t.Error("expected cache error to surface")
		}
	})
}

func TestVelocityWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer rc.Close()

	svc := NewService(rc, time.Minute)
	ctx := context.Background()

	_, _ = svc.Record(ctx, "applicant-001")
	got, _ := svc.Record(ctx, "applicant-001")
	if got != 2 {
		t.Errorf("expected 2, got %d", got)
	}

	// raw identifiers never reach redis
	for _, key := range mr.Keys() {
		if key == "kestrel:enquiries:counter:applicant-001" {
			t.Error("applicant id stored in clear")
		}
	}

	mr.FastForward(2 * time.Minute)
	got, _ = svc.Record(ctx, "applicant-001")
	if got != 1 {
		t.Errorf("expected window reset, got %d", got)
	}
}

func TestVelocityExpiredCountersAreReleased(t *testing.T) {
	lru := cache.NewLRUCache(100)
	defer lru.Close()

	svc := NewService(lru, time.Millisecond)
	ctx := context.Background()

	const rounds, perRound = 10, 1000
	for r := 0; r < rounds; r++ {
		for i := 0; i < perRound; i++ {
			if _, err := svc.Record(ctx, fmt.Sprintf("applicant-%d-%d", r, i)); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Every earlier round has expired; only a bounded number may be held.
	if n := lru.Stats().Counters; n > 2*perRound {
		t.Errorf("expected at most %d counters held, got %d", 2*perRound, n)
	}
}
