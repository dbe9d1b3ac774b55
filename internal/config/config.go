// Package config provides layered key-value configuration: a settings file,
// AWS Systems Manager parameter paths and the process environment, merged in
// that order with later layers winning. Keys are case-insensitive and nested
// keys are joined with ".".
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Well-known keys read by the relay.
const (
	KeyQueueDestination = "StudyUpdateFIFOQueue"
	KeyRefresh          = "Refresh"
	KeyDiagnostic       = "SecureKeybyCMK"
	KeyRedisURL         = "Redis.Url"
	KeyRedisMaxLen      = "Redis.MaxLen"
	KeySQSEndpoint      = "Sqs.Endpoint"
)

// DefaultReloadTimeout bounds a single rebuild of every layer.
const DefaultReloadTimeout = 30 * time.Second

// Source is one configuration layer.
type Source interface {
	// Name identifies the layer in logs and errors.
	Name() string
	// Load reads the layer's current key-value pairs.
	Load(ctx context.Context) (map[string]string, error)
}

// Expiring is implemented by layers whose values go stale after a period and
// should be re-read even when nothing forces a reload.
type Expiring interface {
	ReloadInterval() time.Duration
}

// Snapshot is an immutable view of the merged configuration.
type Snapshot struct {
	values   map[string]string
	version  uint64
	loadedAt time.Time
}

// NewSnapshot builds a snapshot from raw key-value pairs.
func NewSnapshot(values map[string]string) *Snapshot {
	s := &Snapshot{values: make(map[string]string, len(values)), loadedAt: time.Now()}
	for k, v := range values {
		s.values[normalizeKey(k)] = v
	}
	return s
}

// Lookup returns the value for key and whether it is present.
func (s *Snapshot) Lookup(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[normalizeKey(key)]
	return v, ok
}

// Get returns the value for key, or "" when absent.
func (s *Snapshot) Get(key string) string {
	v, _ := s.Lookup(key)
	return v
}

// Bool parses the value for key. Absent or unparsable values are false.
func (s *Snapshot) Bool(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s.Get(key)))
	return err == nil && b
}

// Int64 parses the value for key, returning def when absent or unparsable.
func (s *Snapshot) Int64(key string, def int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s.Get(key)), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Strings splits a comma-separated value, dropping empty elements.
func (s *Snapshot) Strings(key string) []string {
	var out []string
	for _, part := range strings.Split(s.Get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Len returns the number of keys.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Version increases by one with every successful reload.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// Provider merges its sources into snapshots and reloads them on demand.
// It is safe for concurrent use; concurrent reloads share a single rebuild.
type Provider struct {
	sources []Source
	logger  *slog.Logger
	timeout time.Duration

	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	group   singleflight.Group

	mu        sync.RWMutex
	listeners []func(*Snapshot)
}

// NewProvider creates a provider over the given layers, lowest precedence first.
// Call Reload once to populate the first snapshot.
func NewProvider(logger *slog.Logger, sources ...Source) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{sources: sources, logger: logger, timeout: DefaultReloadTimeout}
	p.current.Store(NewSnapshot(nil))
	return p
}

// OnChange registers a callback invoked after every successful reload.
func (p *Provider) OnChange(fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Snapshot returns the current snapshot. It never returns nil.
func (p *Provider) Snapshot() *Snapshot {
	return p.current.Load()
}

// SetReloadTimeout bounds each rebuild. Non-positive values restore
// DefaultReloadTimeout. Call before the provider is shared.
func (p *Provider) SetReloadTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultReloadTimeout
	}
	p.timeout = d
}

// ReloadInterval is the shortest period among the expiring layers, or zero
// when no layer expires.
func (p *Provider) ReloadInterval() time.Duration {
	var interval time.Duration
	for _, src := range p.sources {
		e, ok := src.(Expiring)
		if !ok {
			continue
		}
		if d := e.ReloadInterval(); d > 0 && (interval == 0 || d < interval) {
			interval = d
		}
	}
	return interval
}

// Reload re-reads every source and swaps in the merged result. When any
// source fails the previous snapshot stays current and the error is returned.
//
// Concurrent callers share one rebuild. The rebuild is detached from the
// caller that started it, so one caller giving up does not fail the others;
// each caller stops waiting when its own ctx is done.
func (p *Provider) Reload(ctx context.Context) (*Snapshot, error) {
	ch := p.group.DoChan("reload", func() (any, error) {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.build(bctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		snap := res.Val.(*Snapshot)
		if res.Shared {
			p.logger.Debug("config reload shared with concurrent caller", "version", snap.Version())
		}
		return snap, nil
	}
}

func (p *Provider) build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	merged := make(map[string]string)
	for _, src := range p.sources {
		values, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("config source %s: %w", src.Name(), err)
		}
		for k, v := range values {
			merged[normalizeKey(k)] = v
		}
	}

	snap := NewSnapshot(merged)
	snap.version = p.version.Add(1)
	p.current.Store(snap)

	p.logger.Info("configuration loaded",
		"version", snap.version,
		"keys", len(merged),
		"sources", len(p.sources),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	p.mu.RLock()
	listeners := append([]func(*Snapshot){}, p.listeners...)
	p.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return snap, nil
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
