package di

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-intercept/pkg/config"
)

// slowUserRepository delays GetByID so concurrent readers overlap.
type slowUserRepository struct {
	*mockUserRepository
	delay time.Duration
}

func (r *slowUserRepository) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (User, error) {
	time.Sleep(r.delay)
	return r.mockUserRepository.GetByID(ctx, id, criteria...)
}

func TestConcurrentAccess(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Policy = "single_flight"
	container := newTestContainer(t, cfg)
	base := &slowUserRepository{mockUserRepository: seededRepository(t), delay: 20 * time.Millisecond}

	users, err := NewInterceptedRepository[User](container, base)
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}

	const readers = 50
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := users.GetByID(context.Background(), "user-1")
			if err != nil {
				errs <- err
				return
			}
			if user.Name != "Ada Lovelace" {
				errs <- fmt.Errorf("unexpected user %+v", user)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if calls := base.getCallCount("GetByID"); calls < 1 || calls >= readers {
		t.Errorf("Expected concurrent misses to share a load, got %d base calls for %d readers", calls, readers)
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	container := newTestContainer(t, testConfig())
	base := seededRepository(t)

	users, err := NewInterceptedRepository[User](container, base)
	if err != nil {
		t.Fatalf("NewInterceptedRepository() failed: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, _, err := users.List(ctx); err != nil {
					t.Errorf("List failed: %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			u := User{ID: fmt.Sprintf("writer-%d", i), Name: "Writer"}
			if _, err := users.Create(ctx, u); err != nil {
				t.Errorf("Create failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// A List that loaded before a Create may have stored its result after
	// that Create invalidated, so start from a clean namespace.
	if err := users.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	_, total, err := users.List(ctx)
	if err != nil {
		t.Fatalf("final List failed: %v", err)
	}
	if total != 13 {
		t.Errorf("Expected every write to be visible, got total %d", total)
	}
}

func benchContainer(b *testing.B, mutate func(*config.Config)) *Container {
	b.Helper()
	cfg := testConfig()
	cfg.Retry.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	container, err := NewContainer(cfg, WithLogOutput(io.Discard))
	if err != nil {
		b.Fatalf("NewContainer() failed: %v", err)
	}
	b.Cleanup(func() { _ = container.Close() })
	return container
}

func BenchmarkInterceptedVsBaseRepository(b *testing.B) {
	ctx := context.Background()
	base := newMockUserRepository()
	base.seed(User{ID: "bench", Name: "Bench User"})

	b.Run("base", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = base.GetByID(ctx, "bench")
		}
	})

	b.Run("cached", func(b *testing.B) {
		users, err := NewInterceptedRepository[User](benchContainer(b, nil), base)
		if err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = users.GetByID(ctx, "bench")
		}
	})

	b.Run("uncached", func(b *testing.B) {
		container := benchContainer(b, func(c *config.Config) { c.Cache.Enabled = false })
		users, err := NewInterceptedRepository[User](container, base)
		if err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = users.GetByID(ctx, "bench")
		}
	})
}

func BenchmarkConcurrentCacheAccess(b *testing.B) {
	base := newMockUserRepository()
	base.seed(User{ID: "bench", Name: "Bench User"})
	users, err := NewInterceptedRepository[User](benchContainer(b, nil), base)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_, _ = users.GetByID(ctx, "bench")
		}
	})
}
