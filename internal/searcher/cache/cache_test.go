package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conceptrank/conceptrank/internal/searcher/executor"
	"github.com/conceptrank/conceptrank/internal/searcher/parser"
	"github.com/conceptrank/conceptrank/internal/searcher/ranker"
	"github.com/conceptrank/conceptrank/pkg/resilience"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, false, errors.New("connection refused")
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection refused")
	}
	s.data[key] = value
	return nil
}

func (s *memoryStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func request(limit int) *parser.ScoreRequest {
	return &parser.ScoreRequest{
		Script: "umls_score",
		Params: map[string]any{"text": []string{"heart"}},
		Limit:  limit,
	}
}

func result() *executor.Result {
	return &executor.Result{
		Script:    "umls_score",
		TotalHits: 1,
		Hits:      []ranker.ScoredDoc{{DocID: "A1", Score: 1.5}},
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	c := New(newMemoryStore(), time.Minute, nil)
	calls := 0
	compute := func(context.Context) (*executor.Result, error) {
		calls++
		return result(), nil
	}

	first, hit, err := c.GetOrCompute(context.Background(), request(10), compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	if first.Cached {
		t.Error("fresh result marked cached")
	}
	second, hit, err := c.GetOrCompute(context.Background(), request(10), compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if !second.Cached || second.Hits[0].DocID != "A1" {
		t.Errorf("cached result = %+v", second)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}

	if _, hit, _ := c.GetOrCompute(context.Background(), request(5), compute); hit {
		t.Error("different limit must not hit")
	}
}

func TestGetOrComputeSkipsPartialResults(t *testing.T) {
	c := New(newMemoryStore(), time.Minute, nil)
	compute := func(context.Context) (*executor.Result, error) {
		r := result()
		r.ShardsFailed = 1
		return r, nil
	}
	c.GetOrCompute(context.Background(), request(10), compute)
	if _, hit, _ := c.GetOrCompute(context.Background(), request(10), compute); hit {
		t.Error("partial result was cached")
	}
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	c := New(newMemoryStore(), time.Minute, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*executor.Result, error) {
		calls.Add(1)
		<-release
		return result(), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.GetOrCompute(context.Background(), request(10), compute); err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := calls.Load(); n < 1 || n > 8 {
		t.Errorf("compute called %d times", n)
	}
}

func TestStoreFailureFallsThroughAndTripsBreaker(t *testing.T) {
	store := newMemoryStore()
	store.fail = true
	c := New(store, time.Minute, nil)
	compute := func(context.Context) (*executor.Result, error) { return result(), nil }

	for i := 0; i < 6; i++ {
		got, hit, err := c.GetOrCompute(context.Background(), request(10), compute)
		if err != nil || hit || got.TotalHits != 1 {
			t.Fatalf("call %d: got %+v hit=%v err=%v", i, got, hit, err)
		}
	}
	if state := c.BreakerState(); state != resilience.StateOpen {
		t.Errorf("breaker state = %s, want open", state)
	}
}

func TestInvalidate(t *testing.T) {
	store := newMemoryStore()
	store.data["other:key"] = []byte("x")
	c := New(store, time.Minute, nil)
	compute := func(context.Context) (*executor.Result, error) { return result(), nil }
	c.GetOrCompute(context.Background(), request(10), compute)
	c.GetOrCompute(context.Background(), request(20), compute)

	n, err := c.Invalidate(context.Background())
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d keys, want 2", n)
	}
	if _, ok := store.data["other:key"]; !ok {
		t.Error("non-score key removed")
	}
}

func TestComputeErrorPropagates(t *testing.T) {
	c := New(newMemoryStore(), time.Minute, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), request(10), func(context.Context) (*executor.Result, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestGetOrComputeSurvivesFirstCallerCancel(t *testing.T) {
	c := New(newMemoryStore(), time.Minute, nil)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	compute := func(ctx context.Context) (*executor.Result, error) {
		started <- struct{}{}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return result(), nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(firstCtx, request(10), compute)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res *executor.Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, _, err := c.GetOrCompute(context.Background(), request(10), compute)
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller: got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first caller still waiting after its context was cancelled")
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller: %v", got.err)
	}
	if got.res.TotalHits != 1 {
		t.Errorf("second caller result = %+v", got.res)
	}
}

func TestWithComputeTimeoutBoundsSharedCall(t *testing.T) {
	c := New(newMemoryStore(), time.Minute, nil).WithComputeTimeout(20 * time.Millisecond)
	_, _, err := c.GetOrCompute(context.Background(), request(10), func(ctx context.Context) (*executor.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}
