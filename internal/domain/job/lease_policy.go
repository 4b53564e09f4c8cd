// Package job holds dispatcher-side policies: ownership leases, retry backoff and
// availability notifications.
package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// MinLease is the shortest lease the store will record.
const MinLease = time.Second

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a positive duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the requested duration was raised to MinLease.
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy decides how long a dispatcher owns a PROCESSING job before the reaper may
// fail it, and how often the owner must renew.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Duration  time.Duration
	Source    LeaseSource
	Requested time.Duration
}

// ExpiresAt returns the lease deadline measured from now.
func (d LeaseDecision) ExpiresAt(now time.Time) time.Time {
	return now.Add(d.Duration)
}

// HeartbeatInterval returns how often an owner should renew this lease.
// Renewing at a third of the lease tolerates two missed beats.
func (d LeaseDecision) HeartbeatInterval() time.Duration {
	iv := d.Duration / 3
	if iv < MinLease/2 {
		return MinLease / 2
	}
	return iv
}

// Resolve normalises the requested duration, truncated to whole seconds.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request}
	switch {
	case request == 0 && p != nil:
		decision.Duration = p.defaultLease.Truncate(time.Second)
		decision.Source = LeaseSourceDefault
	case request > 0:
		decision.Duration = request.Truncate(time.Second)
		decision.Source = LeaseSourceExplicit
	}
	if decision.Duration < MinLease {
		decision.Duration = MinLease
		decision.Source = LeaseSourceClamped
	}
	return decision
}
