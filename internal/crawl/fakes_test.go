package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet error
	failGet error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fastWaiter records requested delays and only yields briefly.
type fastWaiter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *fastWaiter) Wait(ctx context.Context, delay time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, delay)
	w.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func (w *fastWaiter) recorded() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

type fetchResult struct {
	resp Response
	err  error
}

// scriptedFetcher replays per-unit results; units without a script succeed
// with one record. A non-nil gate blocks each fetch until it is released.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[Unit][]fetchResult
	calls   []Unit
	gate    chan struct{}
	started chan Unit
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{scripts: make(map[Unit][]fetchResult)}
}

func (f *scriptedFetcher) script(u Unit, results ...fetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[u] = append(f.scripts[u], results...)
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Unit)
	var res fetchResult
	if queue := f.scripts[req.Unit]; len(queue) > 0 {
		res = queue[0]
		f.scripts[req.Unit] = queue[1:]
	} else {
		res = fetchResult{resp: Response{Records: 1}}
	}
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- req.Unit
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	return res.resp, res.err
}

func (f *scriptedFetcher) unitCalls() []Unit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Unit(nil), f.calls...)
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, Request) (Response, error) {
	return Response{}, errors.New("upstream 503")
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (e *recordingEmitter) Emit(evt Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventKind, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Kind)
	}
	return out
}

// tickingFetcher advances the clock by step on every fetch and fails the
// first failures calls. onFetch runs before the clock moves.
type tickingFetcher struct {
	clock    *fakeClock
	step     time.Duration
	failures int
	onFetch  func()

	mu    sync.Mutex
	calls int
}

func (f *tickingFetcher) Fetch(context.Context, Request) (Response, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	f.clock.set(f.clock.Now().Add(f.step))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return Response{}, errors.New("upstream 503")
	}
	return Response{Records: 1}, nil
}
