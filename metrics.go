package keyrail

import "github.com/keyrail/keyrail/internal/metrics"

// MetricID identifies one engine counter.
type MetricID = metrics.MetricID

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot = metrics.Snapshot

// Counter ids, re-exported for snapshot consumers and exporters.
const (
	MetricLoginSuccess         = metrics.MetricLoginSuccess
	MetricLoginFailure         = metrics.MetricLoginFailure
	MetricLoginRateLimited     = metrics.MetricLoginRateLimited
	MetricFactorChallenge      = metrics.MetricFactorChallenge
	MetricRefreshSuccess       = metrics.MetricRefreshSuccess
	MetricRefreshRecovered     = metrics.MetricRefreshRecovered
	MetricRefreshFailure       = metrics.MetricRefreshFailure
	MetricRefreshRateLimited   = metrics.MetricRefreshRateLimited
	MetricValidateSuccess      = metrics.MetricValidateSuccess
	MetricValidateFailure      = metrics.MetricValidateFailure
	MetricAuthorizeAllowed     = metrics.MetricAuthorizeAllowed
	MetricAuthorizeDenied      = metrics.MetricAuthorizeDenied
	MetricTokenIssued          = metrics.MetricTokenIssued
	MetricTokenRedeemed        = metrics.MetricTokenRedeemed
	MetricRotationConflict     = metrics.MetricRotationConflict
	MetricLogout               = metrics.MetricLogout
	MetricLogoutAll            = metrics.MetricLogoutAll
	MetricFactorEnrolled       = metrics.MetricFactorEnrolled
	MetricFactorRemoved        = metrics.MetricFactorRemoved
	MetricFactorFailure        = metrics.MetricFactorFailure
	MetricPasswordResetRequest = metrics.MetricPasswordResetRequest
	MetricPasswordResetConfirm = metrics.MetricPasswordResetConfirm
	MetricInvitationIssued     = metrics.MetricInvitationIssued
	MetricInvitationRedeemed   = metrics.MetricInvitationRedeemed
)

// MetricsSnapshot returns a copy of every counter. An engine built with
// metrics disabled returns an empty snapshot.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}
