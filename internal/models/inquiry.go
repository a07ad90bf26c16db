package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InquiryMessage is one message inside an inquiry thread.
type InquiryMessage struct {
	SenderID    primitive.ObjectID `bson:"sender_id" json:"sender_id"`
	Content     string             `bson:"content" json:"content"`
	Attachments []string           `bson:"attachments,omitempty" json:"attachments,omitempty"` // S3 keys
	SentAt      time.Time          `bson:"sent_at" json:"sent_at"`
	ReadAt      *time.Time         `bson:"read_at,omitempty" json:"read_at,omitempty"`
}

// Inquiry is a buyer-seller conversation thread on a listing. A unique
// compound index on (listing_id, buyer_id) guarantees at most one thread per
// pair; a second create attempt fails with a duplicate key error.
type Inquiry struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ListingID    primitive.ObjectID `bson:"listing_id" json:"listing_id"`
	BuyerID      primitive.ObjectID `bson:"buyer_id" json:"buyer_id"`
	SellerID     primitive.ObjectID `bson:"seller_id" json:"seller_id"` // denormalized from the listing
	Messages     []InquiryMessage   `bson:"messages" json:"messages"`
	BuyerUnread  int                `bson:"buyer_unread" json:"buyer_unread"`
	SellerUnread int                `bson:"seller_unread" json:"seller_unread"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
	Deleted      bool               `bson:"deleted" json:"-"`
}

// IsParticipant reports whether userID is a party to this inquiry.
func (i *Inquiry) IsParticipant(userID primitive.ObjectID) bool {
	return i.BuyerID == userID || i.SellerID == userID
}
