package download

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/driftpkg/drift/internal/core"
	circuit "github.com/rubyist/circuitbreaker"
)

// BreakerGroup holds one circuit breaker per remote host. A host that keeps
// failing trips its breaker and is reported unavailable without being
// hammered; other hosts are unaffected.
type BreakerGroup struct {
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// NewBreakerGroup creates an empty breaker group.
func NewBreakerGroup() *BreakerGroup {
	return &BreakerGroup{breakers: make(map[string]*circuit.Breaker)}
}

// forHost returns or creates the breaker for a host.
func (g *BreakerGroup) forHost(host string) *circuit.Breaker {
	g.mu.RLock()
	breaker, exists := g.breakers[host]
	g.mu.RUnlock()
	if exists {
		return breaker
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if breaker, exists := g.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures, reopening on exponential backoff.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	g.breakers[host] = breaker
	return breaker
}

// Do runs fn under the breaker for rawURL's host.
func (g *BreakerGroup) Do(rawURL string, fn func() error) error {
	host := hostOf(rawURL)
	breaker := g.forHost(host)

	if !breaker.Ready() {
		return fmt.Errorf("circuit breaker open for %s: %w", host, core.ErrRegistryUnavailable)
	}
	return breaker.Call(fn, 0)
}

// States returns the open/closed state per host, for health reporting.
func (g *BreakerGroup) States() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[string]string, len(g.breakers))
	for host, breaker := range g.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// hostOf extracts the host used for breaker grouping.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
