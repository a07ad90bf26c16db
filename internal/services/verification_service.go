package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"railexchange/railx/internal/config"
	"railexchange/railx/internal/models"
)

var (
	ErrVerificationPending  = errors.New("a verification request is already pending")
	ErrVerificationNotFound = errors.New("verification record not found")
	ErrInvalidTransition    = errors.New("invalid verification transition")
)

// IVerificationService defines the interface for the seller verification
// workflow. Every transition appends to the record's history and mirrors the
// resulting status onto the user document.
type IVerificationService interface {
	Submit(ctx context.Context, userID primitive.ObjectID, tier models.VerificationTier, documents []models.VerificationDocument) (*models.SellerVerification, error)
	Approve(ctx context.Context, verificationID, adminID primitive.ObjectID) (*models.SellerVerification, error)
	Reject(ctx context.Context, verificationID, adminID primitive.ObjectID, reason string) (*models.SellerVerification, error)
	Revoke(ctx context.Context, verificationID, adminID primitive.ObjectID, reason string) (*models.SellerVerification, error)
	ForceExpire(ctx context.Context, verificationID, adminID primitive.ObjectID) (*models.SellerVerification, error)
	FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.SellerVerification, error)
	FindByID(ctx context.Context, verificationID primitive.ObjectID) (*models.SellerVerification, error)
	ListPending(ctx context.Context, page, limit int) ([]models.SellerVerification, int64, error)
	ExpireDue(ctx context.Context) (*SweepResult, error)
}

const sellerVerificationsCollection = "seller_verifications"

type verificationService struct {
	db           *mongo.Database
	cfg          *config.Config
	userService  IUserService
	auditService IAuditService
}

// NewVerificationService creates a new VerificationService.
func NewVerificationService(database *mongo.Database, cfg *config.Config, userService IUserService, auditService IAuditService) IVerificationService {
	return &verificationService{db: database, cfg: cfg, userService: userService, auditService: auditService}
}

// Submit opens (or re-opens) a verification request. A user may resubmit
// after rejection, expiry or revocation, but not while one is pending or
// active.
func (s *verificationService) Submit(ctx context.Context, userID primitive.ObjectID, tier models.VerificationTier, documents []models.VerificationDocument) (*models.SellerVerification, error) {
	if tier != models.VerificationTierStandard && tier != models.VerificationTierPremium {
		return nil, fmt.Errorf("unknown verification tier %q", tier)
	}
	if len(documents) == 0 {
		return nil, errors.New("at least one supporting document is required")
	}

	existing, err := s.FindByUserID(ctx, userID)
	if err != nil && !errors.Is(err, ErrVerificationNotFound) {
		return nil, err
	}
	if existing != nil && (existing.Status == models.VerificationStatusPending || existing.Status == models.VerificationStatusActive) {
		return nil, ErrVerificationPending
	}

	now := time.Now().UTC()
	transition := models.VerificationTransition{
		Status:    models.VerificationStatusPending,
		ActorID:   userID,
		Timestamp: now,
	}

	var record *models.SellerVerification
	if existing == nil {
		record = &models.SellerVerification{
			ID:        primitive.NewObjectID(),
			UserID:    userID,
			Tier:      tier,
			Status:    models.VerificationStatusPending,
			Documents: documents,
			History:   []models.VerificationTransition{transition},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := s.db.Collection(sellerVerificationsCollection).InsertOne(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to insert verification record: %w", err)
		}
	} else {
		record, err = s.transition(ctx, existing.ID, bson.M{
			"$in": []models.VerificationStatus{
				models.VerificationStatusNone,
				models.VerificationStatusExpired,
				models.VerificationStatusRevoked,
			},
		}, transition, bson.M{"tier": tier, "documents": documents, "expires_at": nil})
		if err != nil {
			return nil, err
		}
	}

	if err := s.userService.MirrorVerification(ctx, userID, models.VerificationStatusPending, models.VerificationTierNone, nil); err != nil {
		log.Printf("Warning: failed to mirror pending verification onto user %s: %v", userID.Hex(), err)
	}
	return record, nil
}

// Approve moves a pending request to active and stamps its expiry.
func (s *verificationService) Approve(ctx context.Context, verificationID, adminID primitive.ObjectID) (*models.SellerVerification, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.VerificationDuration)

	record, err := s.transition(ctx, verificationID,
		models.VerificationStatusPending,
		models.VerificationTransition{Status: models.VerificationStatusActive, ActorID: adminID, Timestamp: now},
		bson.M{"expires_at": expiresAt})
	if err != nil {
		return nil, err
	}

	if err := s.userService.MirrorVerification(ctx, record.UserID, models.VerificationStatusActive, record.Tier, &expiresAt); err != nil {
		log.Printf("Warning: failed to mirror active verification onto user %s: %v", record.UserID.Hex(), err)
	}
	s.auditService.Record(ctx, adminID, "verification.approve", &verificationID, string(record.Tier))
	return record, nil
}

// Reject declines a pending request. The record returns to none so the
// seller can resubmit.
func (s *verificationService) Reject(ctx context.Context, verificationID, adminID primitive.ObjectID, reason string) (*models.SellerVerification, error) {
	record, err := s.transition(ctx, verificationID,
		models.VerificationStatusPending,
		models.VerificationTransition{Status: models.VerificationStatusNone, ActorID: adminID, Reason: reason, Timestamp: time.Now().UTC()},
		nil)
	if err != nil {
		return nil, err
	}

	if err := s.userService.MirrorVerification(ctx, record.UserID, models.VerificationStatusNone, models.VerificationTierNone, nil); err != nil {
		log.Printf("Warning: failed to mirror rejection onto user %s: %v", record.UserID.Hex(), err)
	}
	s.auditService.Record(ctx, adminID, "verification.reject", &verificationID, reason)
	return record, nil
}

// Revoke withdraws an active verification before its natural expiry.
func (s *verificationService) Revoke(ctx context.Context, verificationID, adminID primitive.ObjectID, reason string) (*models.SellerVerification, error) {
	record, err := s.transition(ctx, verificationID,
		models.VerificationStatusActive,
		models.VerificationTransition{Status: models.VerificationStatusRevoked, ActorID: adminID, Reason: reason, Timestamp: time.Now().UTC()},
		nil)
	if err != nil {
		return nil, err
	}

	if err := s.userService.MirrorVerification(ctx, record.UserID, models.VerificationStatusRevoked, models.VerificationTierNone, nil); err != nil {
		log.Printf("Warning: failed to mirror revocation onto user %s: %v", record.UserID.Hex(), err)
	}
	s.auditService.Record(ctx, adminID, "verification.revoke", &verificationID, reason)
	return record, nil
}

// ForceExpire ends an active verification immediately, as if its expiry had
// passed.
func (s *verificationService) ForceExpire(ctx context.Context, verificationID, adminID primitive.ObjectID) (*models.SellerVerification, error) {
	record, err := s.transition(ctx, verificationID,
		models.VerificationStatusActive,
		models.VerificationTransition{Status: models.VerificationStatusExpired, ActorID: adminID, Timestamp: time.Now().UTC()},
		nil)
	if err != nil {
		return nil, err
	}

	if err := s.userService.MirrorVerification(ctx, record.UserID, models.VerificationStatusExpired, models.VerificationTierNone, nil); err != nil {
		log.Printf("Warning: failed to mirror forced expiry onto user %s: %v", record.UserID.Hex(), err)
	}
	s.auditService.Record(ctx, adminID, "verification.force_expire", &verificationID, "")
	return record, nil
}

// transition atomically applies one workflow step: the record must currently
// be in fromStatus, the new status is set, and the history entry appended in
// the same update.
func (s *verificationService) transition(ctx context.Context, verificationID primitive.ObjectID, fromStatus interface{}, entry models.VerificationTransition, extraSet bson.M) (*models.SellerVerification, error) {
	set := bson.M{
		"status":     entry.Status,
		"updated_at": entry.Timestamp,
	}
	for k, v := range extraSet {
		set[k] = v
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var record models.SellerVerification
	err := s.db.Collection(sellerVerificationsCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": verificationID, "status": fromStatus},
		bson.M{"$set": set, "$push": bson.M{"history": entry}},
		opts).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the record does not exist or it is not in the expected
			// state; distinguish for a useful error.
			if _, findErr := s.FindByID(ctx, verificationID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to transition verification %s: %w", verificationID.Hex(), err)
	}
	return &record, nil
}

// FindByUserID fetches a user's verification record.
func (s *verificationService) FindByUserID(ctx context.Context, userID primitive.ObjectID) (*models.SellerVerification, error) {
	var record models.SellerVerification
	err := s.db.Collection(sellerVerificationsCollection).FindOne(ctx, bson.M{"user_id": userID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("error finding verification for user %s: %w", userID.Hex(), err)
	}
	return &record, nil
}

// FindByID fetches one verification record.
func (s *verificationService) FindByID(ctx context.Context, verificationID primitive.ObjectID) (*models.SellerVerification, error) {
	var record models.SellerVerification
	err := s.db.Collection(sellerVerificationsCollection).FindOne(ctx, bson.M{"_id": verificationID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("error finding verification %s: %w", verificationID.Hex(), err)
	}
	return &record, nil
}

// ListPending returns pending requests for the admin review queue, oldest
// first.
func (s *verificationService) ListPending(ctx context.Context, page, limit int) ([]models.SellerVerification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := bson.M{"status": models.VerificationStatusPending}
	coll := s.db.Collection(sellerVerificationsCollection)

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count pending verifications: %w", err)
	}

	opts := options.Find().
		SetSort(bson.M{"created_at": 1}).
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit))
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query pending verifications: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.SellerVerification
	if err = cursor.All(ctx, &records); err != nil {
		return nil, 0, fmt.Errorf("failed to decode pending verifications: %w", err)
	}
	return records, total, nil
}

// ExpireDue moves active verifications past their expiry to expired, with a
// system-actor history entry, and clears the user mirror. Failures on one
// record do not stop the pass.
func (s *verificationService) ExpireDue(ctx context.Context) (*SweepResult, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":     models.VerificationStatusActive,
		"expires_at": bson.M{"$lt": now},
	}

	opts := options.Find().SetLimit(int64(s.cfg.SweepBatchSize))
	cursor, err := s.db.Collection(sellerVerificationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query due verifications: %w", err)
	}
	defer cursor.Close(ctx)

	var due []models.SellerVerification
	if err = cursor.All(ctx, &due); err != nil {
		return nil, fmt.Errorf("failed to decode due verifications: %w", err)
	}

	result := &SweepResult{Total: len(due)}
	for _, record := range due {
		entry := models.VerificationTransition{
			Status:    models.VerificationStatusExpired,
			Timestamp: now,
		}
		if _, err := s.transition(ctx, record.ID, models.VerificationStatusActive, entry, nil); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				// Lost the race to a concurrent pass.
				continue
			}
			log.Printf("Error expiring verification %s: %v", record.ID.Hex(), err)
			result.Errors++
			continue
		}
		if err := s.userService.MirrorVerification(ctx, record.UserID, models.VerificationStatusExpired, models.VerificationTierNone, nil); err != nil {
			log.Printf("Error clearing verification mirror on user %s: %v", record.UserID.Hex(), err)
			result.Errors++
			continue
		}
		result.Processed++
	}

	if result.Total > 0 {
		log.Printf("Verification sweep finished: processed=%d errors=%d total=%d", result.Processed, result.Errors, result.Total)
	}
	return result, nil
}
