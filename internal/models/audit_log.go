package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AdminAuditLog records an admin-initiated action. Writes are best-effort:
// a failed audit write is logged and discarded, never failing the primary
// operation it describes.
type AdminAuditLog struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	ActorID   primitive.ObjectID  `bson:"actor_id" json:"actor_id"`
	Action    string              `bson:"action" json:"action"` // e.g. "verification.approve", "user.suspend", "listing.remove"
	TargetID  *primitive.ObjectID `bson:"target_id,omitempty" json:"target_id,omitempty"`
	Detail    string              `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time           `bson:"created_at" json:"created_at"`
}
