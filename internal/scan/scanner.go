// Package scan orchestrates malware scanning over a cascade of backends:
// the clamd daemon socket, the clamdscan CLI, the standalone clamscan CLI,
// and finally a static byte-pattern heuristic. A backend is skipped only
// when it is unreachable, never because it "found nothing".
package scan

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/studyshare/notegate/internal/config"
	"github.com/studyshare/notegate/internal/model"
)

// Backend is one scanning strategy. Probe answers "is this backend usable
// right now"; Scan examines one file. Scan errors mean the backend broke
// mid-flight and the orchestrator should fall through to the next one.
type Backend interface {
	Name() model.ScanBackend
	Probe(ctx context.Context) bool
	Scan(ctx context.Context, path string) (model.ScanResult, error)
}

// Orchestrator tries each backend in order and stops at the first reachable
// one. It is safe for concurrent use; the only shared state is the
// availability cache.
type Orchestrator struct {
	backends []Backend
	timeout  time.Duration
	cache    *availabilityCache
}

// NewOrchestrator builds the production cascade from configuration.
func NewOrchestrator(cfg *config.Config) *Orchestrator {
	return newOrchestrator([]Backend{
		&daemonSocket{address: cfg.ClamdAddress},
		newDaemonCLI(),
		newStandaloneCLI(),
		&heuristicScanner{},
	}, cfg.ScanTimeout, cfg.ProbeTTL)
}

func newOrchestrator(backends []Backend, timeout, probeTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		backends: backends,
		timeout:  timeout,
		cache:    newAvailabilityCache(probeTTL),
	}
}

// Scan runs the file through the first reachable backend. It never returns
// an error: every failure mode collapses into the "unavailable" result, and
// the caller's policy decides whether that blocks.
func (o *Orchestrator) Scan(ctx context.Context, path string) model.ScanResult {
	for _, b := range o.backends {
		name := b.Name()
		if !o.cache.available(name, func() bool {
			pctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()
			return b.Probe(pctx)
		}) {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, o.timeout)
		res, err := b.Scan(sctx, path)
		cancel()
		if err != nil {
			// Treat a mid-scan failure like an unreachable backend so a hung
			// or crashed tool is not re-tried on every request.
			log.Printf("scan backend %s failed: %v", name, err)
			o.cache.invalidate(name)
			continue
		}
		return res
	}
	return model.ScanResult{
		Backend: model.BackendUnavailable,
		Message: "no scan backend reachable",
	}
}

// Probe reports the current availability of every backend, bypassing the
// cache. Used by the checktools CLI command.
func (o *Orchestrator) Probe(ctx context.Context) map[model.ScanBackend]bool {
	out := make(map[model.ScanBackend]bool, len(o.backends))
	for _, b := range o.backends {
		pctx, cancel := context.WithTimeout(ctx, o.timeout)
		out[b.Name()] = b.Probe(pctx)
		cancel()
	}
	return out
}

type cacheEntry struct {
	available bool
	checked   time.Time
}

// availabilityCache remembers probe outcomes for a bounded interval so an
// absent daemon is not re-probed on every upload. Reads take the shared
// lock; a stale entry is re-probed by whichever request notices first.
type availabilityCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[model.ScanBackend]cacheEntry
}

func newAvailabilityCache(ttl time.Duration) *availabilityCache {
	return &availabilityCache{
		ttl:     ttl,
		entries: make(map[model.ScanBackend]cacheEntry),
	}
}

func (c *availabilityCache) available(name model.ScanBackend, probe func() bool) bool {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && time.Since(e.checked) < c.ttl {
		return e.available
	}
	avail := probe()
	c.mu.Lock()
	c.entries[name] = cacheEntry{available: avail, checked: time.Now()}
	c.mu.Unlock()
	return avail
}

func (c *availabilityCache) invalidate(name model.ScanBackend) {
	c.mu.Lock()
	c.entries[name] = cacheEntry{available: false, checked: time.Now()}
	c.mu.Unlock()
}
