// Package liveness tracks reachability of remote localities for the gRPC
// transport backend. §7 treats an unreachable locality as fatal for the
// dispatch that targets it, but the backend still needs to distinguish "one
// slow RPC" from "this locality has been down across several consecutive
// probes" before it escalates — that consecutive-failure bookkeeping is
// what this package provides.
package liveness

import (
	"context"
	"net"
	"time"
)

// Result is the outcome of a single reachability probe.
type Result struct {
	Reachable bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one remote locality's address for reachability.
type Checker interface {
	Check(ctx context.Context) Result
}

// Config governs how probe results turn into a reachable/unreachable
// verdict.
type Config struct {
	// Interval is the time between probes.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	// Retries is the number of consecutive failed probes before the
	// locality is declared unreachable.
	Retries int
}

// DefaultConfig matches the probe cadence the gRPC backend uses for peer
// localities: a probe every two seconds, with a peer declared unreachable
// after three consecutive failed probes (about six seconds), patient enough
// to survive a GC pause.
func DefaultConfig() Config {
	return Config{
		Interval: 2 * time.Second,
		Timeout:  1 * time.Second,
		Retries:  3,
	}
}

// Status tracks a locality's reachability across successive probes.
type Status struct {
	ConsecutiveFailures int
	LastCheck           time.Time
	LastResult          Result
	Reachable           bool
}

// NewStatus returns a Status that assumes reachability until a probe says
// otherwise — consistent with how a newly-dialed peer is treated before its
// first probe completes.
func NewStatus() *Status {
	return &Status{Reachable: true}
}

// Update folds a new probe result into the status, flipping Reachable to
// false only once Retries consecutive probes have failed.
func (s *Status) Update(result Result, cfg Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Reachable {
		s.ConsecutiveFailures = 0
		s.Reachable = true
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= cfg.Retries {
		s.Reachable = false
	}
}

// TCPChecker probes reachability by dialing a TCP address, the same probe
// the gRPC backend's peer connections ultimately ride on.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker builds a checker for address with a 1s default timeout.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 1 * time.Second}
}

// Check dials Address and reports whether the connection succeeded.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	dialer := &net.Dialer{Timeout: t.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Reachable: false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	conn.Close()

	return Result{
		Reachable: true,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
