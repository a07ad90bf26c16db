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

	"railexchange/railx/internal/auth"
	"railexchange/railx/internal/config"
	"railexchange/railx/internal/db"
	"railexchange/railx/internal/models"
)

// ErrEmailTaken is returned when signup hits the unique email index.
var ErrEmailTaken = errors.New("email address already registered")

// ErrInvalidCredentials is returned for any login failure the caller should
// not be able to distinguish (bad password, unknown user).
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrAccountSuspended is returned when a suspended user attempts to log in.
var ErrAccountSuspended = errors.New("account suspended")

// IUserService defines the interface for user operations.
type IUserService interface {
	Signup(ctx context.Context, name, email, password string, isSeller, isContractor bool) (*models.User, error)
	Login(ctx context.Context, email, password, ip string) (*models.User, error)
	FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID primitive.ObjectID, updates map[string]interface{}) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, userID primitive.ObjectID, customerID string) error
	MirrorVerification(ctx context.Context, userID primitive.ObjectID, status models.VerificationStatus, tier models.VerificationTier, until *time.Time) error
	SuspendUser(ctx context.Context, userID primitive.ObjectID, suspended bool) error
	RecentLoginAttempts(ctx context.Context, email string, limit int) ([]models.LoginAttempt, error)
}

const (
	usersCollection         = "users"
	loginAttemptsCollection = "login_attempts"
)

// userService implements IUserService.
type userService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewUserService creates a new UserService.
func NewUserService(database *mongo.Database, cfg *config.Config) IUserService {
	return &userService{db: database, cfg: cfg}
}

// Signup creates a new user with a bcrypt password hash. Email uniqueness is
// enforced by the unique index; a duplicate surfaces as ErrEmailTaken.
func (s *userService) Signup(ctx context.Context, name, email, password string, isSeller, isContractor bool) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:                 primitive.NewObjectID(),
		Name:               name,
		Email:              email,
		PasswordHash:       hash,
		IsSeller:           isSeller,
		IsContractor:       isContractor,
		VerificationStatus: models.VerificationStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err = s.db.Collection(usersCollection).InsertOne(ctx, user)
	if err != nil {
		if db.IsDuplicateKeyError(err) || mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and appends a LoginAttempt record regardless of
// outcome. The attempt write is best-effort relative to the login result.
func (s *userService) Login(ctx context.Context, email, password, ip string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			s.recordAttempt(ctx, email, nil, false, models.LoginReasonNoSuchUser, ip)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		s.recordAttempt(ctx, email, &user.ID, false, models.LoginReasonBadPassword, ip)
		return nil, ErrInvalidCredentials
	}
	if user.Suspended {
		s.recordAttempt(ctx, email, &user.ID, false, models.LoginReasonSuspended, ip)
		return nil, ErrAccountSuspended
	}

	s.recordAttempt(ctx, email, &user.ID, true, models.LoginReasonOK, ip)
	return user, nil
}

func (s *userService) recordAttempt(ctx context.Context, email string, userID *primitive.ObjectID, success bool, reason models.LoginAttemptReason, ip string) {
	attempt := models.LoginAttempt{
		ID:        primitive.NewObjectID(),
		Email:     email,
		UserID:    userID,
		Success:   success,
		Reason:    reason,
		IP:        ip,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.Collection(loginAttemptsCollection).InsertOne(ctx, attempt); err != nil {
		// Audit side channel only; never fail the login over it.
		fmt.Printf("WARNING: failed to record login attempt for %s: %v\n", email, err)
	}
}

// FindByID finds a non-deleted user by ID.
func (s *userService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID.Hex(), err)
	}
	return &user, nil
}

// FindByEmail finds a non-deleted user by email.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"email": email, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email: %w", err)
	}
	return &user, nil
}

// UpdateProfile updates mutable profile fields only.
func (s *userService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, updates map[string]interface{}) (*models.User, error) {
	allowed := bson.M{}
	for key, value := range updates {
		switch key {
		case "name", "phone", "company", "avatar_key", "notifications", "is_seller", "is_contractor":
			allowed[key] = value
		default:
			return nil, fmt.Errorf("field '%s' cannot be updated via UpdateProfile", key)
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no valid fields provided for update")
	}
	allowed["updated_at"] = time.Now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated models.User
	err := s.db.Collection(usersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": allowed}, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("failed to update user %s: %w", userID.Hex(), err)
	}
	return &updated, nil
}

// SetStripeCustomerID stores the billing customer reference on the user.
func (s *userService) SetStripeCustomerID(ctx context.Context, userID primitive.ObjectID, customerID string) error {
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"stripe_customer_id": customerID, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("db error setting stripe customer for user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// MirrorVerification copies verification status/tier/expiry onto the user
// document. Called by the verification service on every transition.
func (s *userService) MirrorVerification(ctx context.Context, userID primitive.ObjectID, status models.VerificationStatus, tier models.VerificationTier, until *time.Time) error {
	set := bson.M{
		"verification_status": status,
		"updated_at":          time.Now().UTC(),
	}
	unset := bson.M{}
	if status == models.VerificationStatusActive {
		set["verification_tier"] = tier
		set["verified_until"] = until
	} else {
		unset["verification_tier"] = ""
		unset["verified_until"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	result, err := s.db.Collection(usersCollection).UpdateOne(ctx, bson.M{"_id": userID, "deleted": false}, update)
	if err != nil {
		return fmt.Errorf("db error mirroring verification onto user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// SuspendUser sets or clears the suspended flag.
func (s *userService) SuspendUser(ctx context.Context, userID primitive.ObjectID, suspended bool) error {
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$set": bson.M{"suspended": suspended, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("db error suspending user %s: %w", userID.Hex(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// RecentLoginAttempts returns attempts for an email, newest first. Records
// older than the retention window have been dropped by the TTL index.
func (s *userService) RecentLoginAttempts(ctx context.Context, email string, limit int) ([]models.LoginAttempt, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(int64(limit))
	cursor, err := s.db.Collection(loginAttemptsCollection).Find(ctx, bson.M{"email": email}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query login attempts: %w", err)
	}
	defer cursor.Close(ctx)

	var attempts []models.LoginAttempt
	if err = cursor.All(ctx, &attempts); err != nil {
		return nil, fmt.Errorf("failed to decode login attempts: %w", err)
	}
	return attempts, nil
}
