package cache

import (
	"context"
	"sync"
	"time"
)

// Subscribe registers fn to receive a copy of key's entry on every change:
// load start, load result, Set, Optimistic, rollback, invalidation and
// eviction. Callbacks run on one goroutine per store, in change order.
// Values are shared between callbacks and must be treated as read-only.
func (s *Store) Subscribe(key Key, fn func(Entry[any])) (unsubscribe func()) {
	k := key.String()
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	if s.subs[k] == nil {
		s.subs[k] = make(map[uint64]func(Entry[any]))
	}
	s.subs[k][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[k], id)
			if len(s.subs[k]) == 0 {
				delete(s.subs, k)
			}
			s.mu.Unlock()
		})
	}
}

// Subscribe is the typed form of Store.Subscribe.
func Subscribe[T any](s *Store, key Key, fn func(Entry[T])) (unsubscribe func()) {
	return s.Subscribe(key, func(e Entry[any]) {
		fn(typed[T](e))
	})
}

// Watch reads key and keeps it refreshed: every poll interval, and
// immediately after an invalidation, until ctx is done or stop is called.
// Releasing a watch never cancels a load already dispatched.
func Watch[T any](ctx context.Context, s *Store, key Key, load Loader[T], opts ...ReadOption) (stop func()) {
	o := s.resolve(key, opts)
	s.read(key, erase(load), o)

	release := s.acquirePoller(key, o.poll)
	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(done)
			release()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop
}

func (s *Store) notifyLocked(rec *record, now time.Time) {
	subs := s.subs[rec.key.String()]
	if len(subs) == 0 {
		return
	}
	view := rec.view(now)
	fns := make([]func(), 0, len(subs))
	for _, fn := range subs {
		fn := fn
		fns = append(fns, func() { fn(view) })
	}
	s.dispatch.push(fns...)
}

// observedLocked reports whether anyone is currently looking at key.
func (s *Store) observedLocked(k string) bool {
	if len(s.subs[k]) > 0 {
		return true
	}
	_, ok := s.pollers[k]
	return ok
}

// poller refreshes one key on a fixed interval. It is shared by all watchers
// of the key; the first watcher's interval applies while it runs.
type poller struct {
	refs     int
	interval time.Duration
	kickCh   chan struct{}
	stopCh   chan struct{}
	once     sync.Once
}

func (p *poller) kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

func (p *poller) stop() {
	p.once.Do(func() { close(p.stopCh) })
}

func (s *Store) acquirePoller(key Key, interval time.Duration) (release func()) {
	k := key.String()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	p, ok := s.pollers[k]
	if !ok {
		p = &poller{
			interval: interval,
			kickCh:   make(chan struct{}, 1),
			stopCh:   make(chan struct{}),
		}
		s.pollers[k] = p
		go s.runPoller(key, p)
	}
	p.refs++
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		p.refs--
		if p.refs > 0 {
			return
		}
		if cur, ok := s.pollers[k]; ok && cur == p {
			delete(s.pollers, k)
		}
		p.stop()
	}
}

func (s *Store) runPoller(key Key, p *poller) {
	var tick <-chan time.Time
	if p.interval > 0 {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-p.stopCh:
			return
		case <-s.ctx.Done():
			return
		case <-tick:
			s.refresh(key, true)
		case <-p.kickCh:
			s.refresh(key, false)
		}
	}
}

// refresh starts a load for key unless one is in flight. Unless force is set
// it only loads when the entry needs it.
func (s *Store) refresh(key Key, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key.String()]
	if !ok || s.closed || rec.loader == nil || rec.inflight {
		return
	}
	now := s.cfg.Clock()
	if !force && !rec.needsLoad(now) {
		return
	}
	s.beginLoadLocked(rec, now)
}
