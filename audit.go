package keyrail

import (
	"context"
	"io"
	"time"

	"github.com/keyrail/keyrail/internal/audit"
)

// AuditEvent is one recorded engine action.
type AuditEvent = audit.Event

// AuditSink receives audit events from the async dispatcher. Emit must not
// block for long; slow sinks cause drops or backpressure depending on
// configuration.
type AuditSink = audit.Sink

// NewChannelAuditSink returns a sink delivering into a buffered channel, for
// tests and in-process consumers. Read events with its Events method.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONAuditSink returns a sink writing one JSON object per line.
func NewJSONAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Audit event types.
const (
	EventLoginSucceeded      = "login.succeeded"
	EventLoginFailed         = "login.failed"
	EventLoginThrottled      = "login.throttled"
	EventLoginChallenged     = "login.challenged"
	EventRefreshSucceeded    = "refresh.succeeded"
	EventRefreshRecovered    = "refresh.recovered"
	EventRefreshFailed       = "refresh.failed"
	EventRefreshThrottled    = "refresh.throttled"
	EventAuthorizationDenied = "authorize.denied"
	EventLogout              = "logout"
	EventLogoutAll           = "logout.all"
	EventFactorEnrollBegin   = "factor.enroll.begin"
	EventFactorEnrolled      = "factor.enrolled"
	EventFactorEnrollFailed  = "factor.enroll.failed"
	EventFactorRemoved       = "factor.removed"
	EventPasswordResetBegin  = "password.reset.begin"
	EventPasswordResetDone   = "password.reset.done"
	EventInvitationIssued    = "invitation.issued"
	EventInvitationRedeemed  = "invitation.redeemed"
)

func (e *Engine) emitAudit(ctx context.Context, eventType, userID, orgID, tokenID string, success bool, cause error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		OrgID:     orgID,
		TokenID:   tokenID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	e.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks the discarded-event count down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return nil
	}
	return e.audit.DroppedByType()
}
