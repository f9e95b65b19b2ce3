package metrics

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricFactorChallenge
	MetricRefreshSuccess
	MetricRefreshRecovered
	MetricRefreshFailure
	MetricRefreshRateLimited
	MetricValidateSuccess
	MetricValidateFailure
	MetricAuthorizeAllowed
	MetricAuthorizeDenied
	MetricTokenIssued
	MetricTokenRedeemed
	MetricRotationConflict
	MetricLogout
	MetricLogoutAll
	MetricFactorEnrolled
	MetricFactorRemoved
	MetricFactorFailure
	MetricPasswordResetRequest
	MetricPasswordResetConfirm
	MetricInvitationIssued
	MetricInvitationRedeemed

	MetricIDCount
)

// Config controls whether counting is active at all.
type Config struct {
	Enabled bool
}

// Metrics is a fixed array of atomic counters. All operations are safe for
// concurrent use; a disabled instance is a no-op.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]atomic.Uint64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	out := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		out.Counters[id] = m.counters[id].Load()
	}
	return out
}
