package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess           ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure           ActivityEventType = "auth.login.failure"
	ActivityEventVerificationRequired   ActivityEventType = "auth.login.verification_required"
	ActivityEventOnboardingRequired     ActivityEventType = "auth.login.onboarding_required"
	ActivityEventTokensRefreshed        ActivityEventType = "auth.tokens.refreshed"
	ActivityEventLogout                 ActivityEventType = "auth.logout"
	ActivityEventPasswordResetRequested ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess   ActivityEventType = "auth.password.reset"
	ActivityEventEmailVerified          ActivityEventType = "auth.email.verified"
	ActivityEventUserRegistered         ActivityEventType = "auth.user.registered"
	ActivityEventCompanyOnboarded       ActivityEventType = "auth.company.onboarded"
	ActivityEventSubUserCreated         ActivityEventType = "auth.subuser.created"
	ActivityEventSubUserUpdated         ActivityEventType = "auth.subuser.updated"
	ActivityEventSubUserPermissionsEdit ActivityEventType = "auth.subuser.permissions_updated"
	ActivityEventSubUserDeleted         ActivityEventType = "auth.subuser.deleted"
	ActivityEventPermissionDenied       ActivityEventType = "authz.permission.denied"
	ActivityEventCrossTenantDenied      ActivityEventType = "authz.tenant.denied"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	ActorID    string
	UserID     string
	CompanyID  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to every sink, returning the first error
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort, failures are only logged
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink failed to record %s: %v", event.EventType, err)
	}
}
