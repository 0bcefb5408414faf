// Package trust maintains per-host reliability state: a static table of
// canonical publishers, a static blacklist of known disinformation domains,
// and dynamic low-trust/blacklist transitions driven by observed evidence
// reliability. All dynamic transitions are monotone within a process
// lifetime — a host never leaves low-trust or blacklist once entered.
package trust

import (
	"net/url"
	"strings"
	"sync"
)

// Thresholds configure the dynamic transitions.
type Thresholds struct {
	LowTrustMinObservations  int     // observations before low-trust can trigger
	LowTrustMean             float64 // mean below which a host becomes low-trust
	BlacklistMinObservations int     // observations before blacklist can trigger
	BlacklistMean            float64 // mean below which a host becomes blacklisted
	BlacklistClamp           float64 // adjusted reliability ceiling for blacklisted hosts
	LowTrustClamp            float64 // adjusted reliability ceiling for low-trust hosts
}

// DefaultThresholds mirror the shipped configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowTrustMinObservations:  3,
		LowTrustMean:             0.35,
		BlacklistMinObservations: 5,
		BlacklistMean:            0.25,
		BlacklistClamp:           0.15,
		LowTrustClamp:            0.4,
	}
}

// hostStats is the per-host dynamic record. sum/count give the running mean
// of observed evidence reliability.
type hostStats struct {
	sum      float64
	count    int
	lowTrust bool
	blocked  bool
}

// Registry is the process-local trust store. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	dynamic   map[string]*hostStats
	canonical map[string]float64
	blacklist map[string]bool
	th        Thresholds
}

// NewRegistry creates a registry seeded with the static canonical table and
// static blacklist.
func NewRegistry(th Thresholds) *Registry {
	r := &Registry{
		dynamic:   make(map[string]*hostStats),
		canonical: make(map[string]float64, len(canonicalHosts)),
		blacklist: make(map[string]bool, len(staticBlacklist)),
		th:        th,
	}
	for host, rel := range canonicalHosts {
		r.canonical[host] = rel
	}
	for _, host := range staticBlacklist {
		r.blacklist[host] = true
	}
	return r
}

// NormalizeHost extracts the lowercased hostname with any "www." prefix
// stripped. Returns "" when rawURL has no parseable host.
func NormalizeHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		// Bare hosts like "example.com/page" parse with an empty Host.
		if i := strings.IndexAny(rawURL, "/?#"); i > 0 {
			host = strings.ToLower(rawURL[:i])
		} else {
			host = strings.ToLower(rawURL)
		}
		if strings.ContainsAny(host, " \t") {
			return ""
		}
	}
	return strings.TrimPrefix(host, "www.")
}

// AdjustReliability returns the effective reliability for an evidence item
// from rawURL whose baseline is current. Canonical hosts lift the baseline
// to the known value; blacklisted hosts are clamped to the blacklist
// ceiling; dynamic low-trust hosts are clamped to the low-trust ceiling.
func (r *Registry) AdjustReliability(rawURL string, current float64) float64 {
	host := NormalizeHost(rawURL)
	if host == "" {
		return current
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.blacklist[host] || r.isDynamicBlacklistedLocked(host) {
		return min(current, r.th.BlacklistClamp)
	}
	if canonical, ok := r.canonical[host]; ok {
		// The static value is authoritative: never rise above it.
		return canonical
	}
	if s, ok := r.dynamic[host]; ok && s.lowTrust {
		return min(current, r.th.LowTrustClamp)
	}
	return current
}

// RecordEvidenceReliability feeds one observed reliability into the host's
// running stats and applies the monotone dynamic transitions.
func (r *Registry) RecordEvidenceReliability(rawURL string, reliability float64) {
	host := NormalizeHost(rawURL)
	if host == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.dynamic[host]
	if !ok {
		s = &hostStats{}
		r.dynamic[host] = s
	}
	s.sum += reliability
	s.count++

	mean := s.sum / float64(s.count)
	if !s.blocked && s.count >= r.th.BlacklistMinObservations && mean < r.th.BlacklistMean {
		s.blocked = true
	}
	if !s.lowTrust && s.count >= r.th.LowTrustMinObservations && mean < r.th.LowTrustMean {
		s.lowTrust = true
	}
}

// IsBlacklisted reports whether the host of rawURL is statically or
// dynamically blacklisted.
func (r *Registry) IsBlacklisted(rawURL string) bool {
	host := NormalizeHost(rawURL)
	if host == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blacklist[host] || r.isDynamicBlacklistedLocked(host)
}

// IsLowTrust reports whether an item from rawURL with the given adjusted
// reliability should be dropped during filtering.
func (r *Registry) IsLowTrust(rawURL string, reliability float64) bool {
	if reliability < r.th.LowTrustMean {
		return true
	}
	host := NormalizeHost(rawURL)
	if host == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.dynamic[host]
	return ok && s.lowTrust
}

// Snapshot returns the hosts currently in dynamic low-trust and dynamic
// blacklist state. Intended for diagnostics and result metadata.
func (r *Registry) Snapshot() (dynamicLowTrust, dynamicBlacklist []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for host, s := range r.dynamic {
		if s.blocked {
			dynamicBlacklist = append(dynamicBlacklist, host)
		} else if s.lowTrust {
			dynamicLowTrust = append(dynamicLowTrust, host)
		}
	}
	return dynamicLowTrust, dynamicBlacklist
}

func (r *Registry) isDynamicBlacklistedLocked(host string) bool {
	s, ok := r.dynamic[host]
	return ok && s.blocked
}
