// Package backoff classifies transport errors and keeps advisory
// "do not retry until" deadlines per resource, so the engine paces itself
// against a rate-limited remote instead of hammering it. The state is
// in-memory and process-lifetime only; it never affects correctness.
package backoff

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// statusCoder is the structural capability a transport error may expose.
// The transport boundary populates it once (see remote.StatusError); nothing
// here probes arbitrary shapes at runtime.
type statusCoder interface {
	HTTPStatus() int
}

// Classification is the outcome of inspecting a transport error.
type Classification struct {
	// Status is the numeric HTTP status, valid only when HasStatus is set.
	Status    int
	HasStatus bool
	// RateLimited reports that the remote asked us to slow down.
	RateLimited bool
}

// rateLimitNeedles are matched against the lowercased, space-stripped error
// message. Some WebDAV servers spell these without spaces.
var rateLimitNeedles = []string{
	"blockedtemporarily",
	"toomanyrequests",
	"ratelimit",
}

// Classify extracts the numeric status (if any) and decides whether the
// error looks like rate limiting: status 429 or 503, or a message matching
// one of the known throttle phrases.
func Classify(err error) Classification {
	var c Classification
	if err == nil {
		return c
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		c.Status = sc.HTTPStatus()
		c.HasStatus = true
	}

	if c.HasStatus && (c.Status == 429 || c.Status == 503) {
		c.RateLimited = true
		return c
	}

	msg := strings.ReplaceAll(strings.ToLower(err.Error()), " ", "")
	for _, needle := range rateLimitNeedles {
		if strings.Contains(msg, needle) {
			c.RateLimited = true
			break
		}
	}
	return c
}

// Tracker maps resource ids to absolute deadlines before which a retry
// should not be attempted. Safe for concurrent use; entries are independent
// per id.
type Tracker struct {
	// MissingBackoff is applied after a confirmed 404: retrying sooner is
	// safe, the resource may simply not have been uploaded yet.
	missingBackoff time.Duration
	// ErrorBackoff is applied after any other failure, where patience pays.
	errorBackoff time.Duration

	mu      sync.Mutex
	entries map[string]time.Time

	now func() time.Time
}

// NewTracker returns an empty tracker with the given backoff windows.
func NewTracker(missingBackoff, errorBackoff time.Duration) *Tracker {
	return &Tracker{
		missingBackoff: missingBackoff,
		errorBackoff:   errorBackoff,
		entries:        make(map[string]time.Time),
		now:            time.Now,
	}
}

// SetFromError records a failure for the resource, choosing the backoff
// window by error class: exactly 404 gets the shorter missing-resource
// window, everything else the longer error window.
func (t *Tracker) SetFromError(id string, err error) {
	c := Classify(err)
	window := t.errorBackoff
	if c.HasStatus && c.Status == 404 {
		window = t.missingBackoff
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = t.now().Add(window)
}

// BlockedUntil returns the deadline for id if it is still in the future.
// Expired entries are evicted as a side effect of the query.
func (t *Tracker) BlockedUntil(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := t.entries[id]
	if !ok {
		return time.Time{}, false
	}
	if !deadline.After(t.now()) {
		delete(t.entries, id)
		return time.Time{}, false
	}
	return deadline, true
}

// Prune sweeps every entry whose deadline is at or before now.
func (t *Tracker) Prune(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, deadline := range t.entries {
		if !deadline.After(now) {
			delete(t.entries, id)
		}
	}
}

// Clear drops all entries.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]time.Time)
}

// Size returns the number of tracked entries, expired ones included.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
