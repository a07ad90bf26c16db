package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LoginAttemptReason codes why an authentication attempt succeeded or failed.
type LoginAttemptReason string

const (
	LoginReasonOK          LoginAttemptReason = "ok"
	LoginReasonBadPassword LoginAttemptReason = "bad_password"
	LoginReasonNoSuchUser  LoginAttemptReason = "no_such_user"
	LoginReasonSuspended   LoginAttemptReason = "suspended"
)

// LoginAttempt is an append-only audit record of one authentication attempt.
// A TTL index on created_at expires records after 90 days.
type LoginAttempt struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	Email     string              `bson:"email" json:"email"`
	UserID    *primitive.ObjectID `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Success   bool                `bson:"success" json:"success"`
	Reason    LoginAttemptReason  `bson:"reason" json:"reason"`
	IP        string              `bson:"ip,omitempty" json:"ip,omitempty"`
	CreatedAt time.Time           `bson:"created_at" json:"created_at"`
}

// LoginAttemptRetentionDays is how long login attempt records are queryable.
const LoginAttemptRetentionDays = 90
