package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"railexchange/railx/internal/api/handlers"
	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/models"
)

func setupUserRouter(handler *handlers.UserHandler, userID primitive.ObjectID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if userID != primitive.NilObjectID {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextKeyUserID, userID)
		})
	}
	r.GET("/v1/users/:id", handler.GetUserByID)
	r.PUT("/v1/users/me", handler.UpdateProfile)
	return r
}

func TestUserHandler_GetUserByID_AnonymousHidesPhone(t *testing.T) {
	mockUserSvc := new(MockUserService)
	handler := handlers.NewUserHandler(mockUserSvc)
	r := setupUserRouter(handler, primitive.NilObjectID)

	sellerID := primitive.NewObjectID()
	mockUserSvc.On("FindByID", mock.Anything, sellerID).
		Return(&models.User{ID: sellerID, Name: "Dana", Phone: "+1 555 0100"}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/users/"+sellerID.Hex(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Dana", body["name"])
	_, hasPhone := body["phone"]
	assert.False(t, hasPhone, "phone must not leak to anonymous viewers")
}

func TestUserHandler_GetUserByID_AuthenticatedSeesPhone(t *testing.T) {
	mockUserSvc := new(MockUserService)
	handler := handlers.NewUserHandler(mockUserSvc)
	r := setupUserRouter(handler, primitive.NewObjectID())

	sellerID := primitive.NewObjectID()
	mockUserSvc.On("FindByID", mock.Anything, sellerID).
		Return(&models.User{ID: sellerID, Name: "Dana", Phone: "+1 555 0100"}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/users/"+sellerID.Hex(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "+1 555 0100", body["phone"])
}

func TestUserHandler_GetUserByID_NotFound(t *testing.T) {
	mockUserSvc := new(MockUserService)
	handler := handlers.NewUserHandler(mockUserSvc)
	r := setupUserRouter(handler, primitive.NilObjectID)

	unknownID := primitive.NewObjectID()
	mockUserSvc.On("FindByID", mock.Anything, unknownID).Return(nil, mongo.ErrNoDocuments)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/users/"+unknownID.Hex(), nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserHandler_GetUserByID_BadID(t *testing.T) {
	handler := handlers.NewUserHandler(new(MockUserService))
	r := setupUserRouter(handler, primitive.NilObjectID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/users/not-an-id", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandler_UpdateProfile(t *testing.T) {
	mockUserSvc := new(MockUserService)
	handler := handlers.NewUserHandler(mockUserSvc)

	userID := primitive.NewObjectID()
	r := setupUserRouter(handler, userID)

	mockUserSvc.On("UpdateProfile", mock.Anything, userID,
		map[string]interface{}{"phone": "+1 555 0199", "company": "Railhead Salvage"}).
		Return(&models.User{ID: userID, Phone: "+1 555 0199", Company: "Railhead Salvage"}, nil)

	w := httptest.NewRecorder()
	body := `{"phone":"+1 555 0199","company":"Railhead Salvage"}`
	req, _ := http.NewRequest("PUT", "/v1/users/me", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockUserSvc.AssertExpectations(t)
}

func TestUserHandler_UpdateProfile_NoFields(t *testing.T) {
	mockUserSvc := new(MockUserService)
	handler := handlers.NewUserHandler(mockUserSvc)
	r := setupUserRouter(handler, primitive.NewObjectID())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/v1/users/me", strings.NewReader(`{}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockUserSvc.AssertNotCalled(t, "UpdateProfile")
}

func TestUserHandler_UpdateProfile_Unauthenticated(t *testing.T) {
	handler := handlers.NewUserHandler(new(MockUserService))
	r := setupUserRouter(handler, primitive.NilObjectID)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/v1/users/me", strings.NewReader(`{"name":"x"}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
