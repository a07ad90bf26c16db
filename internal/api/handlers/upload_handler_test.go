package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"railexchange/railx/internal/api/handlers"
	"railexchange/railx/internal/api/middleware"
	"railexchange/railx/internal/config"
	"railexchange/railx/internal/storage"
)

func setupUploadRouter(handler *handlers.UploadHandler, userID primitive.ObjectID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/uploads/url", func(c *gin.Context) {
		if userID != primitive.NilObjectID {
			c.Set(middleware.ContextKeyUserID, userID)
		}
		handler.PresignUpload(c)
	})
	r.GET("/v1/images/*key", handler.GetImage)
	return r
}

func TestUploadHandler_PresignUpload_Success(t *testing.T) {
	mockStorage := new(MockS3Storage)
	cfg := &config.Config{PresignTTL: 15 * time.Minute}
	handler := handlers.NewUploadHandler(cfg, mockStorage)

	userID := primitive.NewObjectID()
	r := setupUploadRouter(handler, userID)

	mockStorage.On("GeneratePresignedPutURL", mock.Anything, userID.Hex(), storage.FolderListingPhotos, "photo.jpg", "image/jpeg", int64(1024)).
		Return("https://signed.example/put", "listing-photos/"+userID.Hex()+"/photo.jpg", nil)

	w := httptest.NewRecorder()
	body := `{"folder":"listing-photos","filename":"photo.jpg","content_type":"image/jpeg","size":1024}`
	req, _ := http.NewRequest("POST", "/v1/uploads/url", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://signed.example/put", resp["url"])
	assert.Contains(t, resp["key"], "listing-photos/")
	assert.EqualValues(t, 900, resp["expires_in"])
	mockStorage.AssertExpectations(t)
}

func TestUploadHandler_PresignUpload_Validation(t *testing.T) {
	mockStorage := new(MockS3Storage)
	handler := handlers.NewUploadHandler(&config.Config{}, mockStorage)
	r := setupUploadRouter(handler, primitive.NewObjectID())

	cases := []string{
		`{"folder":"secret-folder","filename":"a.jpg","content_type":"image/jpeg","size":1024}`,
		`{"folder":"listing-photos","filename":"a.exe","content_type":"application/octet-stream","size":1024}`,
		`{"folder":"listing-photos","filename":"a.jpg","content_type":"image/jpeg","size":99999999}`,
		`{"filename":"a.jpg","content_type":"image/jpeg","size":1024}`,
	}
	for _, body := range cases {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/v1/uploads/url", strings.NewReader(body))
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
	mockStorage.AssertNotCalled(t, "GeneratePresignedPutURL")
}

func TestUploadHandler_PresignUpload_Unauthenticated(t *testing.T) {
	handler := handlers.NewUploadHandler(&config.Config{}, new(MockS3Storage))
	r := setupUploadRouter(handler, primitive.NilObjectID)

	w := httptest.NewRecorder()
	body := `{"folder":"listing-photos","filename":"a.jpg","content_type":"image/jpeg","size":1024}`
	req, _ := http.NewRequest("POST", "/v1/uploads/url", strings.NewReader(body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadHandler_GetImage_Success(t *testing.T) {
	mockStorage := new(MockS3Storage)
	handler := handlers.NewUploadHandler(&config.Config{}, mockStorage)
	r := setupUploadRouter(handler, primitive.NilObjectID)

	content := io.NopCloser(strings.NewReader("jpeg-bytes"))
	mockStorage.On("StreamObject", mock.Anything, "listing-photos/abc/photo.jpg").Return(content, "image/jpeg", nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/images/listing-photos/abc/photo.jpg", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", w.Body.String())
	mockStorage.AssertExpectations(t)
}

func TestUploadHandler_GetImage_MissingServesPlaceholder(t *testing.T) {
	mockStorage := new(MockS3Storage)
	handler := handlers.NewUploadHandler(&config.Config{}, mockStorage)
	r := setupUploadRouter(handler, primitive.NilObjectID)

	mockStorage.On("StreamObject", mock.Anything, "listing-photos/missing.jpg").Return(nil, "", storage.ErrObjectNotFound)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/images/listing-photos/missing.jpg", nil)
	r.ServeHTTP(w, req)

	// Broken references render as a blank tile, never an error body.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}
