package cache

import "time"

// ReadOption configures a read, fetch or watch.
type ReadOption func(*readOptions)

type readOptions struct {
	ttl      time.Duration
	poll     time.Duration
	disabled bool
}

// WithTTL overrides the key's default time-to-live.
func WithTTL(ttl time.Duration) ReadOption {
	return func(o *readOptions) {
		o.ttl = ttl
	}
}

// WithPollInterval sets the refresh interval used while the key is watched.
// Zero disables polling.
func WithPollInterval(d time.Duration) ReadOption {
	return func(o *readOptions) {
		o.poll = d
	}
}

// WithEnabled controls whether the read may trigger a load. A disabled read
// only returns the current entry.
func WithEnabled(enabled bool) ReadOption {
	return func(o *readOptions) {
		o.disabled = !enabled
	}
}

// Defaults are the per-key settings applied when a read does not override them.
type Defaults struct {
	TTL          time.Duration
	PollInterval time.Duration
}

func (s *Store) resolve(key Key, opts []ReadOption) readOptions {
	o := readOptions{}
	s.mu.Lock()
	d, ok := s.defaults[key.String()]
	s.mu.Unlock()
	if ok {
		o.ttl = d.TTL
		o.poll = d.PollInterval
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = s.cfg.DefaultTTL
	}
	return o
}
