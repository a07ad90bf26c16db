package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VerificationDocument is an uploaded supporting document (S3-backed).
type VerificationDocument struct {
	Type       string    `bson:"type" json:"type"` // e.g. "business_license", "insurance_certificate", "fra_certification"
	StorageKey string    `bson:"storage_key" json:"storage_key"`
	Filename   string    `bson:"filename" json:"filename"`
	UploadedAt time.Time `bson:"uploaded_at" json:"uploaded_at"`
}

// VerificationTransition is one append-only history entry. ActorID is the
// user who caused the transition (the seller for submissions, an admin for
// decisions, zero for system-driven expiry).
type VerificationTransition struct {
	Status    VerificationStatus `bson:"status" json:"status"`
	ActorID   primitive.ObjectID `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	Reason    string             `bson:"reason,omitempty" json:"reason,omitempty"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

// SellerVerification is the per-user verification workflow record.
// History is append-only; Status always equals the last entry's status.
type SellerVerification struct {
	ID        primitive.ObjectID       `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    primitive.ObjectID       `bson:"user_id" json:"user_id"`
	Tier      VerificationTier         `bson:"tier" json:"tier"`
	Status    VerificationStatus       `bson:"status" json:"status"`
	Documents []VerificationDocument   `bson:"documents" json:"documents"`
	History   []VerificationTransition `bson:"history" json:"history"`
	ExpiresAt *time.Time               `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time                `bson:"updated_at" json:"updated_at"`
}
