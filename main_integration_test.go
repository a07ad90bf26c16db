package main_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	testAppBinary         = "./railx_test_app"
	testAppPort           = "8089"
	testServiceApiPortApi = "8091"
	testServiceApiPortBg  = "8092"
	testAppURL            = "http://localhost:" + testAppPort
	testServiceApiURL     = "http://localhost:" + testServiceApiPortApi
	testDbName            = "railx_integration_test"
	testCronSecret        = "integration-cron-secret"
	startupTimeout        = 15 * time.Second
	pingEndpoint          = testAppURL + "/v1/ping"
)

// TestMain builds the binary and runs an API process plus a background
// worker against local MongoDB and Redis.
func TestMain(m *testing.M) {
	defer func() {
		_ = os.Remove(testAppBinary)
	}()

	godotenv.Load()
	if os.Getenv("MONGO_URI") == "" {
		log.Println("MONGO_URI not set, skipping integration tests")
		return
	}

	log.Println("Integration Test Setup: Building application...")
	buildCmd := exec.Command("go", "build", "-o", testAppBinary, ".")
	buildOutput, err := buildCmd.CombinedOutput()
	if err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, string(buildOutput))
		os.Exit(1)
	}

	if err := dropTestDatabase(); err != nil {
		log.Printf("Failed to reset test database: %v", err)
		os.Exit(1)
	}

	commonEnv := []string{
		"MONGO_DB_NAME=" + testDbName,
		"JWT_SECRET=integration-test-secret",
		"CRON_SECRET=" + testCronSecret,
		"GIN_MODE=release",
		"MOCK_SERVICES=true",
		"REDIS_ADDR=localhost:6379",
		"SMTP_FROM_ADDRESS=test@example.com",
		"RATE_LIMIT_BUCKET_SIZE=200",
		"RATE_LIMIT_REFILL_RATE=100",
		"MESSAGE_RATE_BUCKET=50",
		"MESSAGE_RATE_REFILL=25",
	}

	apiCmd := exec.Command(testAppBinary, "-m", "api")
	apiCmd.Env = append(append(os.Environ(), commonEnv...),
		"API_PORT="+testAppPort,
		"SERVICE_API_PORT="+testServiceApiPortApi,
	)
	apiCmd.Stderr = os.Stderr
	apiCmd.Stdout = os.Stdout

	log.Println("Integration Test Setup: Starting API process...")
	if err := apiCmd.Start(); err != nil {
		log.Printf("Failed to start API process: %v", err)
		os.Exit(1)
	}

	bgCmd := exec.Command(testAppBinary, "-m", "bg")
	bgCmd.Env = append(append(os.Environ(), commonEnv...),
		"SERVICE_API_PORT="+testServiceApiPortBg,
	)
	bgCmd.Stderr = os.Stderr
	bgCmd.Stdout = os.Stdout

	log.Println("Integration Test Setup: Starting background worker process...")
	if err := bgCmd.Start(); err != nil {
		_ = apiCmd.Process.Kill()
		log.Printf("Failed to start background worker process: %v", err)
		os.Exit(1)
	}

	defer func() {
		log.Println("Integration Test Teardown: Shutting down application processes...")
		for _, cmd := range []*exec.Cmd{bgCmd, apiCmd} {
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				_ = cmd.Process.Kill()
				continue
			}
			_, _ = cmd.Process.Wait()
		}
	}()

	log.Printf("Integration Test Setup: Waiting for API at %s...", pingEndpoint)
	startTime := time.Now()
	ready := false
	for time.Since(startTime) < startupTimeout {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(bodyBytes) == "pong" {
				ready = true
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	if !ready {
		log.Printf("Application failed to start within %v", startupTimeout)
		os.Exit(1)
	}

	// Give the worker a moment to register its queues.
	time.Sleep(2 * time.Second)

	m.Run()
}

func dropTestDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(os.Getenv("MONGO_URI")))
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)
	return client.Database(testDbName).Drop(ctx)
}

type apiResponse struct {
	status int
	body   map[string]interface{}
}

func doJSON(t *testing.T, method, path, token string, payload interface{}) apiResponse {
	t.Helper()
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, testAppURL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	result := apiResponse{status: resp.StatusCode}
	if len(bodyBytes) > 0 {
		_ = json.Unmarshal(bodyBytes, &result.body)
	}
	return result
}

func signupUser(t *testing.T, name string) (email, token string) {
	t.Helper()
	email = fmt.Sprintf("%s_%d@example.com", name, time.Now().UnixNano())
	resp := doJSON(t, http.MethodPost, "/v1/auth/signup", "", map[string]interface{}{
		"name":     name,
		"email":    email,
		"password": "StrongP@ssw0rd123",
	})
	require.Equal(t, http.StatusCreated, resp.status, "signup should succeed: %v", resp.body)
	token, _ = resp.body["token"].(string)
	require.NotEmpty(t, token, "signup should return a token")
	return email, token
}

func TestIntegration_Ping(t *testing.T) {
	resp, err := http.Get(pingEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	bodyBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(bodyBytes))
}

func TestIntegration_SignupLoginSession(t *testing.T) {
	email, token := signupUser(t, "session_user")

	// Duplicate signup is rejected.
	dup := doJSON(t, http.MethodPost, "/v1/auth/signup", "", map[string]interface{}{
		"name":     "dup",
		"email":    email,
		"password": "StrongP@ssw0rd123",
	})
	assert.Equal(t, http.StatusConflict, dup.status)

	// Login with the right password.
	login := doJSON(t, http.MethodPost, "/v1/auth/login", "", map[string]interface{}{
		"email":    email,
		"password": "StrongP@ssw0rd123",
	})
	assert.Equal(t, http.StatusOK, login.status)

	// Wrong password is a 401.
	badLogin := doJSON(t, http.MethodPost, "/v1/auth/login", "", map[string]interface{}{
		"email":    email,
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, badLogin.status)

	// The session endpoint returns the account.
	session := doJSON(t, http.MethodGet, "/v1/auth/session", token, nil)
	assert.Equal(t, http.StatusOK, session.status)
	user, _ := session.body["user"].(map[string]interface{})
	require.NotNil(t, user)
	assert.Equal(t, email, user["email"])
}

func TestIntegration_ListingLifecycle(t *testing.T) {
	_, token := signupUser(t, "seller_user")

	created := doJSON(t, http.MethodPost, "/v1/listings", token, map[string]interface{}{
		"title":       "EMD GP38-2 Locomotive",
		"description": "Rebuilt 2019, ready for interchange service.",
		"category":    "locomotives",
		"condition":   "used",
	})
	require.Equal(t, http.StatusCreated, created.status, "create listing: %v", created.body)
	listingID, _ := created.body["id"].(string)
	require.NotEmpty(t, listingID)
	assert.Equal(t, "draft", created.body["status"])

	// Drafts are invisible to anonymous callers.
	anon := doJSON(t, http.MethodGet, "/v1/listings/"+listingID, "", nil)
	assert.Equal(t, http.StatusNotFound, anon.status)

	// The seller still sees the draft.
	own := doJSON(t, http.MethodGet, "/v1/listings/"+listingID, token, nil)
	assert.Equal(t, http.StatusOK, own.status)

	publish := doJSON(t, http.MethodPost, "/v1/listings/"+listingID+"/publish", token, nil)
	require.Equal(t, http.StatusOK, publish.status, "publish: %v", publish.body)

	// Published listings show up in search.
	search := doJSON(t, http.MethodGet, "/v1/listings?category=locomotives", "", nil)
	require.Equal(t, http.StatusOK, search.status)
	data, _ := search.body["data"].([]interface{})
	found := false
	for _, item := range data {
		if listing, ok := item.(map[string]interface{}); ok && listing["id"] == listingID {
			found = true
			break
		}
	}
	assert.True(t, found, "published listing should appear in search results")

	sold := doJSON(t, http.MethodPost, "/v1/listings/"+listingID+"/sold", token, nil)
	assert.Equal(t, http.StatusOK, sold.status)

	// Publish after sold is an invalid transition.
	republish := doJSON(t, http.MethodPost, "/v1/listings/"+listingID+"/publish", token, nil)
	assert.Equal(t, http.StatusConflict, republish.status)
}

func TestIntegration_InquiryFlow(t *testing.T) {
	_, sellerToken := signupUser(t, "inq_seller")
	_, buyerToken := signupUser(t, "inq_buyer")

	created := doJSON(t, http.MethodPost, "/v1/listings", sellerToken, map[string]interface{}{
		"title":       "52' Mill Gondola",
		"description": "Lot of 12, stored serviceable.",
		"category":    "rolling_stock",
	})
	require.Equal(t, http.StatusCreated, created.status)
	listingID, _ := created.body["id"].(string)
	publish := doJSON(t, http.MethodPost, "/v1/listings/"+listingID+"/publish", sellerToken, nil)
	require.Equal(t, http.StatusOK, publish.status)

	// Sellers can't inquire about their own listings.
	selfInquiry := doJSON(t, http.MethodPost, "/v1/inquiries", sellerToken, map[string]interface{}{
		"listing_id": listingID,
		"content":    "interested in my own cars",
	})
	assert.Equal(t, http.StatusBadRequest, selfInquiry.status)

	inquiry := doJSON(t, http.MethodPost, "/v1/inquiries", buyerToken, map[string]interface{}{
		"listing_id": listingID,
		"content":    "Are these available for inspection in Topeka?",
	})
	require.Equal(t, http.StatusCreated, inquiry.status, "create inquiry: %v", inquiry.body)
	inquiryID, _ := inquiry.body["id"].(string)
	require.NotEmpty(t, inquiryID)

	// Only one thread per buyer and listing.
	dup := doJSON(t, http.MethodPost, "/v1/inquiries", buyerToken, map[string]interface{}{
		"listing_id": listingID,
		"content":    "second thread attempt",
	})
	assert.Equal(t, http.StatusConflict, dup.status)

	reply := doJSON(t, http.MethodPost, "/v1/inquiries/"+inquiryID+"/messages", sellerToken, map[string]interface{}{
		"content": "Yes, they are on the house track at the Topeka yard.",
	})
	require.Equal(t, http.StatusCreated, reply.status)

	// A third party can't read the thread.
	_, strangerToken := signupUser(t, "inq_stranger")
	denied := doJSON(t, http.MethodGet, "/v1/inquiries/"+inquiryID, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, denied.status)

	// Buyer sees the reply, marks it read.
	thread := doJSON(t, http.MethodGet, "/v1/inquiries/"+inquiryID, buyerToken, nil)
	require.Equal(t, http.StatusOK, thread.status)
	messages, _ := thread.body["messages"].([]interface{})
	assert.Len(t, messages, 2)

	read := doJSON(t, http.MethodPost, "/v1/inquiries/"+inquiryID+"/read", buyerToken, nil)
	assert.Equal(t, http.StatusOK, read.status)
}

func TestIntegration_InquiryEmailDelivered(t *testing.T) {
	sellerEmail, sellerToken := signupUser(t, "mail_seller")
	_, buyerToken := signupUser(t, "mail_buyer")

	created := doJSON(t, http.MethodPost, "/v1/listings", sellerToken, map[string]interface{}{
		"title":       "Continuous Welded Rail, 136RE",
		"description": "Approx 2 miles, mill certs available.",
		"category":    "track_materials",
	})
	require.Equal(t, http.StatusCreated, created.status)
	listingID, _ := created.body["id"].(string)
	publish := doJSON(t, http.MethodPost, "/v1/listings/"+listingID+"/publish", sellerToken, nil)
	require.Equal(t, http.StatusOK, publish.status)

	inquiry := doJSON(t, http.MethodPost, "/v1/inquiries", buyerToken, map[string]interface{}{
		"listing_id": listingID,
		"content":    "What year was this rail rolled?",
	})
	require.Equal(t, http.StatusCreated, inquiry.status)

	// The background worker delivers the notification through the mock
	// sender; fetch it via the service API.
	emailData := getEmailFromServiceAPI(t, "inquiry_received", sellerEmail)
	subject, _ := emailData["subject"].(string)
	assert.Contains(t, subject, "inquiry")
}

func TestIntegration_CronEndpointAuth(t *testing.T) {
	// No token.
	noAuth := doJSON(t, http.MethodPost, "/v1/cron/expire-addons", "", nil)
	assert.Equal(t, http.StatusUnauthorized, noAuth.status)

	// Wrong token.
	badAuth := doJSON(t, http.MethodPost, "/v1/cron/expire-addons", "not-the-secret", nil)
	assert.Equal(t, http.StatusUnauthorized, badAuth.status)

	// Right token runs the sweep.
	ok := doJSON(t, http.MethodPost, "/v1/cron/expire-addons", testCronSecret, nil)
	require.Equal(t, http.StatusOK, ok.status, "cron sweep: %v", ok.body)
	assert.Contains(t, ok.body, "processed")
	assert.Contains(t, ok.body, "errors")
}

func TestIntegration_PublicSettings(t *testing.T) {
	resp := doJSON(t, http.MethodGet, "/v1/settings", "", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, resp.body, "APP_NAME")
}

func TestIntegration_VerificationRequiresDocuments(t *testing.T) {
	_, token := signupUser(t, "verif_user")

	missingDocs := doJSON(t, http.MethodPost, "/v1/verification", token, map[string]interface{}{
		"tier":      "standard",
		"documents": []interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, missingDocs.status)

	docs := []map[string]interface{}{{
		"type":        "business_license",
		"storage_key": "verification-docs/business-license.pdf",
		"filename":    "business-license.pdf",
	}}
	submitted := doJSON(t, http.MethodPost, "/v1/verification", token, map[string]interface{}{
		"tier":      "standard",
		"documents": docs,
	})
	require.Equal(t, http.StatusCreated, submitted.status, "submit verification: %v", submitted.body)
	assert.Equal(t, "pending", submitted.body["status"])

	// Re-submitting while pending is rejected.
	resubmit := doJSON(t, http.MethodPost, "/v1/verification", token, map[string]interface{}{
		"tier":      "standard",
		"documents": docs,
	})
	assert.Equal(t, http.StatusConflict, resubmit.status)

	own := doJSON(t, http.MethodGet, "/v1/verification", token, nil)
	require.Equal(t, http.StatusOK, own.status)
	assert.Equal(t, "pending", own.body["status"])
}

func TestIntegration_AdminRoutesForbiddenForUsers(t *testing.T) {
	_, token := signupUser(t, "nonadmin_user")

	resp := doJSON(t, http.MethodGet, "/v1/admin/verifications", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)

	anon := doJSON(t, http.MethodGet, "/v1/admin/verifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, anon.status)
}

// getEmailFromServiceAPI polls the service API for a mock email stored by the
// background worker.
func getEmailFromServiceAPI(t *testing.T, kind, email string) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{
		"method":    "getTestEmail",
		"arguments": []string{kind, email},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var lastStatus int
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Post(testServiceApiURL+"/api", "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		lastStatus = resp.StatusCode

		if resp.StatusCode == http.StatusOK {
			var body struct {
				Success bool                   `json:"success"`
				Data    map[string]interface{} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(bodyBytes, &body))
			require.True(t, body.Success)
			return body.Data
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mock email %s for %s never arrived (last status %d)", kind, email, lastStatus)
	return nil
}
