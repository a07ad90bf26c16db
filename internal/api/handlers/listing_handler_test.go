package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/api/handlers"
	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
)

func setupListingRouter(handler *handlers.ListingHandler, userID primitive.ObjectID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if userID != primitive.NilObjectID {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextKeyUserID, userID)
		})
	}
	r.POST("/v1/listings", handler.CreateListing)
	r.GET("/v1/listings/:id", handler.GetListingByID)
	r.POST("/v1/listings/:id/photos", handler.ConfirmPhoto)
	return r
}

func TestListingHandler_CreateListing(t *testing.T) {
	mockListingSvc := new(MockListingService)
	handler := handlers.NewListingHandler(mockListingSvc, new(MockAsynqClient))

	sellerID := primitive.NewObjectID()
	r := setupListingRouter(handler, sellerID)

	created := &models.Listing{ID: primitive.NewObjectID(), SellerID: sellerID, Title: "EMD SD40-2", Status: models.ListingStatusDraft}
	mockListingSvc.On("CreateListing", mock.Anything, sellerID, "EMD SD40-2", "Rebuilt.", models.CategoryLocomotives, "used", (*models.AskingPrice)(nil)).
		Return(created, nil)

	w := httptest.NewRecorder()
	body := `{"title":"EMD SD40-2","description":"Rebuilt.","category":"locomotives","condition":"used"}`
	req, _ := http.NewRequest("POST", "/v1/listings", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_CreateListing_UnknownCategory(t *testing.T) {
	mockListingSvc := new(MockListingService)
	handler := handlers.NewListingHandler(mockListingSvc, new(MockAsynqClient))
	r := setupListingRouter(handler, primitive.NewObjectID())

	w := httptest.NewRecorder()
	body := `{"title":"Thing","description":"Desc.","category":"spaceships"}`
	req, _ := http.NewRequest("POST", "/v1/listings", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockListingSvc.AssertNotCalled(t, "CreateListing")
}

func TestListingHandler_GetListingByID_DraftHiddenFromOthers(t *testing.T) {
	mockListingSvc := new(MockListingService)
	handler := handlers.NewListingHandler(mockListingSvc, new(MockAsynqClient))

	sellerID := primitive.NewObjectID()
	listing := &models.Listing{ID: primitive.NewObjectID(), SellerID: sellerID, Status: models.ListingStatusDraft}
	mockListingSvc.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)

	// Anonymous caller gets a 404 rather than a hint the draft exists.
	r := setupListingRouter(handler, primitive.NilObjectID)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listings/"+listing.ID.Hex(), nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The seller sees their own draft.
	r = setupListingRouter(handler, sellerID)
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/v1/listings/"+listing.ID.Hex(), nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListingHandler_ConfirmPhoto_EnqueuesProcessing(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockClient := new(MockAsynqClient)
	handler := handlers.NewListingHandler(mockListingSvc, mockClient)

	sellerID := primitive.NewObjectID()
	listing := &models.Listing{ID: primitive.NewObjectID(), SellerID: sellerID, Status: models.ListingStatusDraft}
	mockListingSvc.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)
	mockClient.On("EnqueueContext", mock.Anything, mock.AnythingOfType("*asynq.Task")).Return(&asynq.TaskInfo{}, nil)

	r := setupListingRouter(handler, sellerID)
	w := httptest.NewRecorder()
	body := `{"key":"listing-photos/` + sellerID.Hex() + `/photo.jpg"}`
	req, _ := http.NewRequest("POST", "/v1/listings/"+listing.ID.Hex()+"/photos", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	mockClient.AssertExpectations(t)
}

func TestListingHandler_ConfirmPhoto_NotOwner(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockClient := new(MockAsynqClient)
	handler := handlers.NewListingHandler(mockListingSvc, mockClient)

	listing := &models.Listing{ID: primitive.NewObjectID(), SellerID: primitive.NewObjectID(), Status: models.ListingStatusDraft}
	mockListingSvc.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)

	r := setupListingRouter(handler, primitive.NewObjectID())
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listings/"+listing.ID.Hex()+"/photos", strings.NewReader(`{"key":"listing-photos/a.jpg"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	mockClient.AssertNotCalled(t, "EnqueueContext")
}

func TestListingHandler_ConfirmPhoto_ListingMissing(t *testing.T) {
	mockListingSvc := new(MockListingService)
	handler := handlers.NewListingHandler(mockListingSvc, new(MockAsynqClient))

	listingID := primitive.NewObjectID()
	mockListingSvc.On("FindListingByID", mock.Anything, listingID).Return(nil, mongo.ErrNoDocuments)

	r := setupListingRouter(handler, primitive.NewObjectID())
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listings/"+listingID.Hex()+"/photos", strings.NewReader(`{"key":"listing-photos/a.jpg"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
