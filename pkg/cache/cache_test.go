package cache

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expectedparrot/edsl-sub003/pkg/logging"
	"github.com/expectedparrot/edsl-sub003/pkg/model"
)

type failingStore struct {
	gets atomic.Int64
	puts atomic.Int64
}

func (s *failingStore) Get(context.Context, string) (Entry, bool, error) {
	s.gets.Add(1)
	return Entry{}, false, stderrors.New("connection refused")
}

func (s *failingStore) PutIfAbsent(context.Context, Entry) (bool, error) {
	s.puts.Add(1)
	return false, stderrors.New("connection refused")
}

func (s *failingStore) Close() error { return nil }

// lateStore misses on the first Get and finds entry afterwards, as when
// another process writes the key between two lookups.
type lateStore struct {
	entry Entry
	gets  atomic.Int64
}

func (s *lateStore) Get(context.Context, string) (Entry, bool, error) {
	if s.gets.Add(1) == 1 {
		return Entry{}, false, nil
	}
	return s.entry, true, nil
}

func (s *lateStore) PutIfAbsent(context.Context, Entry) (bool, error) { return false, nil }

func (s *lateStore) Close() error { return nil }

func TestKeyIsDeterministic(t *testing.T) {
	spec := model.Spec{Name: "gpt-4o", Provider: "openai", Params: map[string]any{"temperature": 0.5, "max_tokens": 100}}
	reordered := model.Spec{Name: "gpt-4o", Provider: "OpenAI", Params: map[string]any{"max_tokens": 100, "temperature": 0.5}}

	assert.Equal(t, Key("hello", spec, 0), Key("hello", reordered, 0))
	assert.Len(t, Key("hello", spec, 0), 64)
}

func TestKeyDistinguishesInputs(t *testing.T) {
	spec := model.Spec{Name: "gpt-4o", Provider: "openai", Params: map[string]any{"temperature": 0.5}}
	base := Key("hello", spec, 0)

	tests := []struct {
		name string
		key  string
	}{
		{"prompt", Key("hello!", spec, 0)},
		{"iteration", Key("hello", spec, 1)},
		{"model", Key("hello", model.Spec{Name: "gpt-4o-mini", Provider: "openai", Params: spec.Params}, 0)},
		{"params", Key("hello", model.Spec{Name: "gpt-4o", Provider: "openai", Params: map[string]any{"temperature": 0.7}}, 0)},
		{"provider", Key("hello", model.Spec{Name: "gpt-4o", Provider: "scripted", Params: spec.Params}, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.key)
		})
	}
}

func TestKeyForIncludesSystemPrompt(t *testing.T) {
	spec := model.Spec{Name: "m", Provider: "scripted"}
	a := KeyFor(&model.Request{Model: spec, System: "You are Alice", Prompt: "q"})
	b := KeyFor(&model.Request{Model: spec, System: "You are Bob", Prompt: "q"})
	assert.NotEqual(t, a, b)
	assert.Empty(t, KeyFor(nil))
}

func TestCacheGetAndPut(t *testing.T) {
	ctx := context.Background()
	c := New(nil, Options{})

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	stored := c.PutIfAbsent(ctx, Entry{Key: "k", Answer: "yes"})
	assert.Equal(t, "yes", stored.Answer)
	assert.False(t, stored.CreatedAt.IsZero())

	again := c.PutIfAbsent(ctx, Entry{Key: "k", Answer: "no"})
	assert.Equal(t, "yes", again.Answer, "entries are immutable once written")

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "yes", got.Answer)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Writes)
}

func TestFetchFillsOnceAndCaches(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), Options{})

	var calls atomic.Int64
	fill := func(context.Context) (Entry, error) {
		calls.Add(1)
		return Entry{Answer: "blue", Comment: "I like it"}, nil
	}

	e, hit, err := c.Fetch(ctx, "color", fill)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "color", e.Key)
	assert.Equal(t, "blue", e.Answer)

	e, hit, err = c.Fetch(ctx, "color", fill)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "I like it", e.Comment)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchCountsLateStoreHitAsHit(t *testing.T) {
	ctx := context.Background()
	store := &lateStore{entry: Entry{Key: "k", Answer: "stored"}}
	var events []Event
	c := New(store, Options{Observer: func(e Event) { events = append(events, e) }})

	var calls atomic.Int64
	e, hit, err := c.Fetch(ctx, "k", func(context.Context) (Entry, error) {
		calls.Add(1)
		return Entry{Answer: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "stored", e.Answer)
	assert.Zero(t, calls.Load())

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Coalesced)
	require.Len(t, events, 1)
	assert.Equal(t, EventHit, events[0].Kind)
}

func TestFetchDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c := New(nil, Options{})

	_, _, err := c.Fetch(ctx, "k", func(context.Context) (Entry, error) {
		return Entry{}, stderrors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	e, hit, err := c.Fetch(ctx, "k", func(context.Context) (Entry, error) {
		return Entry{Answer: "ok"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", e.Answer)
}

func TestFetchCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := New(nil, Options{})

	release := make(chan struct{})
	var calls atomic.Int64
	fill := func(context.Context) (Entry, error) {
		calls.Add(1)
		<-release
		return Entry{Answer: "shared"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	answers := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, _, err := c.Fetch(ctx, "same", fill)
			assert.NoError(t, err)
			answers[i] = e.Answer
		}(i)
	}

	// Give every caller time to join the in-flight fill.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, a := range answers {
		assert.Equal(t, "shared", a)
	}
}

func TestSharedStoreSurvivesNewCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := New(store, Options{})
	_, _, err := first.Fetch(ctx, "k", func(context.Context) (Entry, error) {
		return Entry{Answer: "persisted"}, nil
	})
	require.NoError(t, err)

	second := New(store, Options{})
	e, hit, err := second.Fetch(ctx, "k", func(context.Context) (Entry, error) {
		t.Fatal("fill must not run when the store has the entry")
		return Entry{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "persisted", e.Answer)
}

func TestStoreErrorsDegradeToMiss(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	store := &failingStore{}
	var events []Event
	c := New(store, Options{
		Logger:   logging.NewWriterLogger(&buf, "job"),
		Observer: func(e Event) { events = append(events, e) },
	})

	e, hit, err := c.Fetch(ctx, "k", func(context.Context) (Entry, error) {
		return Entry{Answer: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", e.Answer)

	// The in-process layer still serves the answer.
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	assert.EqualValues(t, 3, c.Stats().StoreErrors, "two lookups and one write")
	assert.Contains(t, buf.String(), "CACHE_UNAVAILABLE")
	assert.Contains(t, buf.String(), "cache.unavailable")

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, EventStoreError)
}

func TestCloseNilCache(t *testing.T) {
	var c *Cache
	assert.NoError(t, c.Close())
}
