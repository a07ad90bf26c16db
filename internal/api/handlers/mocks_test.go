package handlers_test

import (
	"context"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"railexchange/railx/internal/models"
	"railexchange/railx/internal/services"
)

// --- Mocks ---

// MockUserService implements services.IUserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Signup(ctx context.Context, name, email, password string, isSeller, isContractor bool) (*models.User, error) {
	args := m.Called(ctx, name, email, password, isSeller, isContractor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) Login(ctx context.Context, email, password, ip string) (*models.User, error) {
	args := m.Called(ctx, email, password, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, updates map[string]interface{}) (*models.User, error) {
	args := m.Called(ctx, userID, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *MockUserService) SetStripeCustomerID(ctx context.Context, userID primitive.ObjectID, customerID string) error {
	args := m.Called(ctx, userID, customerID)
	return args.Error(0)
}
func (m *MockUserService) MirrorVerification(ctx context.Context, userID primitive.ObjectID, status models.VerificationStatus, tier models.VerificationTier, until *time.Time) error {
	args := m.Called(ctx, userID, status, tier, until)
	return args.Error(0)
}
func (m *MockUserService) SuspendUser(ctx context.Context, userID primitive.ObjectID, suspended bool) error {
	args := m.Called(ctx, userID, suspended)
	return args.Error(0)
}
func (m *MockUserService) RecentLoginAttempts(ctx context.Context, email string, limit int) ([]models.LoginAttempt, error) {
	args := m.Called(ctx, email, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LoginAttempt), args.Error(1)
}

// MockListingService implements services.IListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, sellerID primitive.ObjectID, title, description string, category models.ListingCategory, condition string, askingPrice *models.AskingPrice) (*models.Listing, error) {
	args := m.Called(ctx, sellerID, title, description, category, condition, askingPrice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *MockListingService) FindListingByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *MockListingService) UpdateListing(ctx context.Context, listingID, sellerID primitive.ObjectID, updates map[string]interface{}) (*models.Listing, error) {
	args := m.Called(ctx, listingID, sellerID, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}
func (m *MockListingService) PublishListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	args := m.Called(ctx, listingID, sellerID)
	return args.Error(0)
}
func (m *MockListingService) MarkSold(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	args := m.Called(ctx, listingID, sellerID)
	return args.Error(0)
}
func (m *MockListingService) RemoveListing(ctx context.Context, listingID, sellerID primitive.ObjectID) error {
	args := m.Called(ctx, listingID, sellerID)
	return args.Error(0)
}
func (m *MockListingService) AdminRemoveListing(ctx context.Context, listingID primitive.ObjectID) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}
func (m *MockListingService) SearchListings(ctx context.Context, params services.ListingSearchParams) ([]models.Listing, int64, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Listing), args.Get(1).(int64), args.Error(2)
}
func (m *MockListingService) AddPhotoToListing(ctx context.Context, listingID primitive.ObjectID, photoKey string) error {
	args := m.Called(ctx, listingID, photoKey)
	return args.Error(0)
}
func (m *MockListingService) SetAddOnFlags(ctx context.Context, listingID primitive.ObjectID, flags []string, active bool, expiresAt *time.Time) error {
	args := m.Called(ctx, listingID, flags, active, expiresAt)
	return args.Error(0)
}

// MockAddOnService implements services.IAddOnService
type MockAddOnService struct {
	mock.Mock
}

func (m *MockAddOnService) CreatePendingPurchase(ctx context.Context, userID primitive.ObjectID, listingID *primitive.ObjectID, addOnType models.AddOnType, stripeSessionID, stripePriceID string) (*models.AddOnPurchase, error) {
	args := m.Called(ctx, userID, listingID, addOnType, stripeSessionID, stripePriceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AddOnPurchase), args.Error(1)
}
func (m *MockAddOnService) AttachStripeSession(ctx context.Context, purchaseID primitive.ObjectID, stripeSessionID string) error {
	args := m.Called(ctx, purchaseID, stripeSessionID)
	return args.Error(0)
}
func (m *MockAddOnService) ActivatePurchaseBySession(ctx context.Context, stripeSessionID string) (*models.AddOnPurchase, error) {
	args := m.Called(ctx, stripeSessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AddOnPurchase), args.Error(1)
}
func (m *MockAddOnService) GrantAddOn(ctx context.Context, userID primitive.ObjectID, listingID *primitive.ObjectID, addOnType models.AddOnType, duration time.Duration) (*models.AddOnPurchase, error) {
	args := m.Called(ctx, userID, listingID, addOnType, duration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AddOnPurchase), args.Error(1)
}
func (m *MockAddOnService) CancelPurchase(ctx context.Context, purchaseID primitive.ObjectID) error {
	args := m.Called(ctx, purchaseID)
	return args.Error(0)
}
func (m *MockAddOnService) FindPurchaseByID(ctx context.Context, purchaseID primitive.ObjectID) (*models.AddOnPurchase, error) {
	args := m.Called(ctx, purchaseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AddOnPurchase), args.Error(1)
}
func (m *MockAddOnService) ListPurchasesForUser(ctx context.Context, userID primitive.ObjectID) ([]models.AddOnPurchase, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AddOnPurchase), args.Error(1)
}
func (m *MockAddOnService) ExpireDueAddOns(ctx context.Context) (*services.SweepResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SweepResult), args.Error(1)
}
func (m *MockAddOnService) ExpiringSoon(ctx context.Context, within time.Duration) ([]models.AddOnPurchase, error) {
	args := m.Called(ctx, within)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AddOnPurchase), args.Error(1)
}
func (m *MockAddOnService) MarkExpiryNotified(ctx context.Context, purchaseID primitive.ObjectID) error {
	args := m.Called(ctx, purchaseID)
	return args.Error(0)
}

// MockInquiryService implements services.IInquiryService
type MockInquiryService struct {
	mock.Mock
}

func (m *MockInquiryService) CreateInquiry(ctx context.Context, listingID, buyerID primitive.ObjectID, content string, attachments []string) (*models.Inquiry, error) {
	args := m.Called(ctx, listingID, buyerID, content, attachments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inquiry), args.Error(1)
}
func (m *MockInquiryService) FindInquiryByID(ctx context.Context, inquiryID primitive.ObjectID) (*models.Inquiry, error) {
	args := m.Called(ctx, inquiryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inquiry), args.Error(1)
}
func (m *MockInquiryService) AppendMessage(ctx context.Context, inquiryID, senderID primitive.ObjectID, content string, attachments []string) (*models.Inquiry, error) {
	args := m.Called(ctx, inquiryID, senderID, content, attachments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inquiry), args.Error(1)
}
func (m *MockInquiryService) MarkRead(ctx context.Context, inquiryID, userID primitive.ObjectID) error {
	args := m.Called(ctx, inquiryID, userID)
	return args.Error(0)
}
func (m *MockInquiryService) ListForUser(ctx context.Context, userID primitive.ObjectID, asSeller bool, page, limit int) ([]models.Inquiry, int64, error) {
	args := m.Called(ctx, userID, asSeller, page, limit)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Inquiry), args.Get(1).(int64), args.Error(2)
}

// MockS3Storage implements storage.IS3Storage
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, userID, folder, filename, contentType string, size int64) (string, string, error) {
	args := m.Called(ctx, userID, folder, filename, contentType, size)
	return args.String(0), args.String(1), args.Error(2)
}
func (m *MockS3Storage) PresignGetURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}
func (m *MockS3Storage) StreamObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

// MockAsynqClient implements handlers.IAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
