package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/oauthkit/audit"
)

// AuditSink implements audit.Sink as insert-only writes to a dedicated
// collection. Nothing in this codebase updates or deletes audit documents;
// retention belongs to the operator.
type AuditSink struct {
	events *mongo.Collection
}

// NewAuditSink creates an AuditSink over the given database. Pass a
// database separate from the operational one when the trail must survive
// operational-store incidents.
func NewAuditSink(db *mongo.Database) *AuditSink {
	return &AuditSink{events: db.Collection(AuditEventsCollection)}
}

func (s *AuditSink) Append(ctx context.Context, event audit.Event) error {
	if _, err := s.events.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
