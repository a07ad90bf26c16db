package services

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/models"
)

// IAuditService records admin actions. Record is explicitly best-effort: a
// failed write is logged and discarded so it can never fail the primary
// operation it describes.
type IAuditService interface {
	Record(ctx context.Context, actorID primitive.ObjectID, action string, targetID *primitive.ObjectID, detail string)
}

const auditLogsCollection = "admin_audit_logs"

type auditService struct {
	db *mongo.Database
}

// NewAuditService creates a new AuditService.
func NewAuditService(database *mongo.Database) IAuditService {
	return &auditService{db: database}
}

// Record appends an audit log entry, swallowing any error.
func (s *auditService) Record(ctx context.Context, actorID primitive.ObjectID, action string, targetID *primitive.ObjectID, detail string) {
	entry := models.AdminAuditLog{
		ID:        primitive.NewObjectID(),
		ActorID:   actorID,
		Action:    action,
		TargetID:  targetID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.Collection(auditLogsCollection).InsertOne(ctx, entry); err != nil {
		log.Printf("WARNING: audit log write failed for action %s by %s: %v", action, actorID.Hex(), err)
	}
}
