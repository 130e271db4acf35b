package notify

import (
	"context"

	auth "github.com/goliatone/go-cms-auth"
	"github.com/goliatone/go-cms-auth/activitymap"
)

// ActivitySink publishes normalized audit events under "activity.<event type>"
type ActivitySink struct {
	publisher JSONPublisher
	opts      []activitymap.Option
}

var _ auth.ActivitySink = (*ActivitySink)(nil)

func NewActivitySink(publisher JSONPublisher, opts ...activitymap.Option) *ActivitySink {
	return &ActivitySink{publisher: publisher, opts: opts}
}

func (s *ActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	record := activitymap.Normalize(event, s.opts...)
	return s.publisher.PublishJSON(ctx, "activity."+record.Verb, record)
}
