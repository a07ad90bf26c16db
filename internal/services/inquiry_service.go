package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/db"
	"railexchange/railx/internal/models"
)

// ErrInquiryExists is returned when a buyer already has a thread on a listing.
var ErrInquiryExists = errors.New("an inquiry for this listing already exists")

// ErrOwnListing is returned when a seller tries to inquire on their own listing.
var ErrOwnListing = errors.New("cannot create an inquiry on your own listing")

// ErrNotParticipant is returned when a user acts on a thread they are not part of.
var ErrNotParticipant = errors.New("not a participant of this inquiry")

// IInquiryService defines the interface for inquiry operations.
type IInquiryService interface {
	CreateInquiry(ctx context.Context, listingID, buyerID primitive.ObjectID, content string, attachments []string) (*models.Inquiry, error)
	FindInquiryByID(ctx context.Context, inquiryID primitive.ObjectID) (*models.Inquiry, error)
	AppendMessage(ctx context.Context, inquiryID, senderID primitive.ObjectID, content string, attachments []string) (*models.Inquiry, error)
	MarkRead(ctx context.Context, inquiryID, userID primitive.ObjectID) error
	ListForUser(ctx context.Context, userID primitive.ObjectID, asSeller bool, page, limit int) ([]models.Inquiry, int64, error)
}

const inquiriesCollection = "inquiries"

// inquiryService implements IInquiryService.
type inquiryService struct {
	db             *mongo.Database
	cfg            *config.Config
	listingService IListingService
}

// NewInquiryService creates a new InquiryService.
func NewInquiryService(database *mongo.Database, cfg *config.Config, listingService IListingService) IInquiryService {
	return &inquiryService{db: database, cfg: cfg, listingService: listingService}
}

// CreateInquiry opens a thread on a listing with an initial message. The
// unique (listing_id, buyer_id) index rejects a second thread for the pair.
func (s *inquiryService) CreateInquiry(ctx context.Context, listingID, buyerID primitive.ObjectID, content string, attachments []string) (*models.Inquiry, error) {
	if content == "" {
		return nil, fmt.Errorf("inquiry must have a message")
	}

	listing, err := s.listingService.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, ErrOwnListing
	}
	if listing.Status != models.ListingStatusPublished {
		return nil, fmt.Errorf("listing is not open for inquiries")
	}

	now := time.Now().UTC()
	inquiry := &models.Inquiry{
		ID:        primitive.NewObjectID(),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		Messages: []models.InquiryMessage{{
			SenderID:    buyerID,
			Content:     content,
			Attachments: attachments,
			SentAt:      now,
		}},
		SellerUnread: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.Collection(inquiriesCollection).InsertOne(ctx, inquiry)
	if err != nil {
		if db.IsDuplicateKeyError(err) || mongo.IsDuplicateKeyError(err) {
			return nil, ErrInquiryExists
		}
		return nil, fmt.Errorf("failed to insert inquiry: %w", err)
	}
	return inquiry, nil
}

// FindInquiryByID fetches a non-deleted inquiry.
func (s *inquiryService) FindInquiryByID(ctx context.Context, inquiryID primitive.ObjectID) (*models.Inquiry, error) {
	var inquiry models.Inquiry
	err := s.db.Collection(inquiriesCollection).FindOne(ctx, bson.M{"_id": inquiryID, "deleted": false}).Decode(&inquiry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding inquiry %s: %w", inquiryID.Hex(), err)
	}
	return &inquiry, nil
}

// AppendMessage adds a message from a participant and bumps the other side's
// unread counter.
func (s *inquiryService) AppendMessage(ctx context.Context, inquiryID, senderID primitive.ObjectID, content string, attachments []string) (*models.Inquiry, error) {
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}

	inquiry, err := s.FindInquiryByID(ctx, inquiryID)
	if err != nil {
		return nil, err
	}
	if !inquiry.IsParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	unreadField := "seller_unread"
	if senderID == inquiry.SellerID {
		unreadField = "buyer_unread"
	}

	now := time.Now().UTC()
	message := models.InquiryMessage{
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
		SentAt:      now,
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.Inquiry
	err = s.db.Collection(inquiriesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": inquiryID, "deleted": false},
		bson.M{
			"$push": bson.M{"messages": message},
			"$inc":  bson.M{unreadField: 1},
			"$set":  bson.M{"updated_at": now},
		}, opts).Decode(&updated)
	if err != nil {
		return nil, fmt.Errorf("failed to append message to inquiry %s: %w", inquiryID.Hex(), err)
	}
	return &updated, nil
}

// MarkRead clears the caller's unread counter and stamps read_at on messages
// addressed to them.
func (s *inquiryService) MarkRead(ctx context.Context, inquiryID, userID primitive.ObjectID) error {
	inquiry, err := s.FindInquiryByID(ctx, inquiryID)
	if err != nil {
		return err
	}
	if !inquiry.IsParticipant(userID) {
		return ErrNotParticipant
	}

	unreadField := "buyer_unread"
	otherParty := inquiry.SellerID
	if userID == inquiry.SellerID {
		unreadField = "seller_unread"
		otherParty = inquiry.BuyerID
	}

	now := time.Now().UTC()
	_, err = s.db.Collection(inquiriesCollection).UpdateOne(ctx,
		bson.M{"_id": inquiryID, "deleted": false},
		bson.M{
			"$set": bson.M{
				unreadField:              0,
				"messages.$[m].read_at":  now,
				"updated_at":             now,
			},
		},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"m.sender_id": otherParty, "m.read_at": nil}},
		}))
	if err != nil {
		return fmt.Errorf("failed to mark inquiry %s read: %w", inquiryID.Hex(), err)
	}
	return nil
}

// ListForUser pages through a user's inquiry threads on one side of the table.
func (s *inquiryService) ListForUser(ctx context.Context, userID primitive.ObjectID, asSeller bool, page, limit int) ([]models.Inquiry, int64, error) {
	field := "buyer_id"
	if asSeller {
		field = "seller_id"
	}
	filter := bson.M{field: userID, "deleted": false}

	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	collection := s.db.Collection(inquiriesCollection)
	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count inquiries: %w", err)
	}

	opts := options.Find().
		SetSort(bson.M{"updated_at": -1}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list inquiries: %w", err)
	}
	defer cursor.Close(ctx)

	var inquiries []models.Inquiry
	if err = cursor.All(ctx, &inquiries); err != nil {
		return nil, 0, fmt.Errorf("failed to decode inquiries: %w", err)
	}
	return inquiries, total, nil
}
