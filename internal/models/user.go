package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VerificationStatus tracks where a seller sits in the verification workflow.
// The authoritative record lives in the seller_verifications collection; these
// fields are mirrored onto the user for cheap access checks.
type VerificationStatus string

const (
	VerificationStatusNone    VerificationStatus = "none"
	VerificationStatusPending VerificationStatus = "pending"
	VerificationStatusActive  VerificationStatus = "active"
	VerificationStatusExpired VerificationStatus = "expired"
	VerificationStatusRevoked VerificationStatus = "revoked"
)

// VerificationTier is the paid level of seller verification.
type VerificationTier string

const (
	VerificationTierNone     VerificationTier = ""
	VerificationTierStandard VerificationTier = "standard"
	VerificationTierPremium  VerificationTier = "premium"
)

// NotificationPreferences allows users to control email notifications.
type NotificationPreferences struct {
	Inquiry          bool `bson:"inquiry" json:"inquiry"`
	VerificationNews bool `bson:"verification_news" json:"verification_news"`
	AddOnExpiry      bool `bson:"addon_expiry" json:"addon_expiry"`
	UserSuspension   bool `bson:"user_suspension" json:"user_suspension"`
}

// User represents an account on the exchange. Users are never hard-deleted;
// Deleted is a soft flag.
type User struct {
	ID                 primitive.ObjectID       `bson:"_id,omitempty" json:"id,omitempty"`
	Name               string                   `bson:"name" json:"name"`
	Email              string                   `bson:"email" json:"email"`
	PasswordHash       string                   `bson:"password" json:"-"`
	Phone              string                   `bson:"phone,omitempty" json:"phone,omitempty"`
	Company            string                   `bson:"company,omitempty" json:"company,omitempty"`
	AvatarKey          string                   `bson:"avatar_key,omitempty" json:"avatar_key,omitempty"`
	IsAdmin            bool                     `bson:"is_admin" json:"is_admin"`
	IsSeller           bool                     `bson:"is_seller" json:"is_seller"`
	IsContractor       bool                     `bson:"is_contractor" json:"is_contractor"`
	VerificationStatus VerificationStatus       `bson:"verification_status" json:"verification_status"`
	VerificationTier   VerificationTier         `bson:"verification_tier,omitempty" json:"verification_tier,omitempty"`
	VerifiedUntil      *time.Time               `bson:"verified_until,omitempty" json:"verified_until,omitempty"`
	StripeCustomerID   string                   `bson:"stripe_customer_id,omitempty" json:"-"`
	Suspended          bool                     `bson:"suspended" json:"suspended"`
	Notifications      *NotificationPreferences `bson:"notifications,omitempty" json:"notifications,omitempty"`
	CreatedAt          time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time                `bson:"updated_at" json:"updated_at"`
	Deleted            bool                     `bson:"deleted" json:"-"`
}

// PublicProfile returns the user shaped for an unauthenticated viewer.
// The phone number is withheld; authenticated callers get the full document.
func (u *User) PublicProfile() *User {
	p := *u
	p.Phone = ""
	p.StripeCustomerID = ""
	return &p
}
