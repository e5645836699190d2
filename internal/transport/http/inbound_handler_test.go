package httptransport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"onetimemail/backend/internal/config"
	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/monitoring"
	"onetimemail/backend/internal/storage/memory"
	"onetimemail/backend/internal/webhook"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

var testMetrics = monitoring.NewMetrics()

func newInboundTestServer(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	pattern := domain.NewAddressPattern("onetime.email", 12)
	auth := webhook.NewAuthenticator(store, store, pattern, webhook.Options{
		SigningKey:     testSigningKey,
		ReplayWindow:   300 * time.Second,
		RateWindow:     60 * time.Second,
		SenderLimit:    10,
		RecipientLimit: 15,
		MaxContentSize: 1024 * 1024,
	}, zap.NewNop())

	handler := NewInboundHandler(auth, &config.WebhookConfig{
		FloodRate:  1000,
		FloodBurst: 1000,
	}, testMetrics, zap.NewNop())

	router := gin.New()
	router.POST("/v1/webhooks/inbound", handler.Receive)
	router.GET("/v1/webhooks/inbound", handler.Describe)
	return router, store
}

func inboundForm(recipient, sender string) url.Values {
	verifier := webhook.NewSignatureVerifier(testSigningKey)
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	token := "delivery-token"

	form := url.Values{}
	form.Set("timestamp", timestamp)
	form.Set("token", token)
	form.Set("signature", verifier.Sign(timestamp, token))
	form.Set("recipient", recipient)
	form.Set("sender", sender)
	form.Set("subject", "hello")
	form.Set("body-plain", "plain body")
	form.Set("Message-Id", "<abc@mail.example>")
	return form
}

func postForm(router *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "mail-gateway/1.0")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInboundHandler_AcceptsValidDelivery(t *testing.T) {
	router, store := newInboundTestServer(t)

	require.NoError(t, store.SaveInbox(&domain.Inbox{
		ID:        "inbox-1",
		Address:   "abc123def456@onetime.email",
		Token:     "tok",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
		IsActive:  true,
	}))

	w := postForm(router, inboundForm("abc123def456@onetime.email", "alice@example.com"))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "inbox-1", body["inbox_id"])
	assert.NotEmpty(t, body["email_id"])

	messages, err := store.ListMessages("inbox-1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestInboundHandler_RejectsBadSignature(t *testing.T) {
	router, _ := newInboundTestServer(t)

	form := inboundForm("abc123def456@onetime.email", "alice@example.com")
	form.Set("signature", strings.Repeat("0", 64))

	w := postForm(router, form)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid signature", body["error"])
}

func TestInboundHandler_UnknownInboxAndExpired(t *testing.T) {
	router, store := newInboundTestServer(t)

	// Valid format, no inbox
	w := postForm(router, inboundForm("abc123def456@onetime.email", "alice@example.com"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Expired inbox answers 410
	require.NoError(t, store.SaveInbox(&domain.Inbox{
		ID:        "inbox-old",
		Address:   "old123def456@onetime.email",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		ExpiresAt: time.Now().UTC().Add(-50 * time.Minute),
		IsActive:  true,
	}))
	w = postForm(router, inboundForm("old123def456@onetime.email", "alice@example.com"))
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestInboundHandler_FloodGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	pattern := domain.NewAddressPattern("onetime.email", 12)
	auth := webhook.NewAuthenticator(store, store, pattern, webhook.Options{
		SigningKey:     testSigningKey,
		ReplayWindow:   300 * time.Second,
		RateWindow:     60 * time.Second,
		SenderLimit:    10,
		RecipientLimit: 15,
		MaxContentSize: 1024 * 1024,
	}, zap.NewNop())

	// Burst of 2, then the guard kicks in
	handler := NewInboundHandler(auth, &config.WebhookConfig{
		FloodRate:  1,
		FloodBurst: 2,
	}, testMetrics, zap.NewNop())

	router := gin.New()
	router.POST("/v1/webhooks/inbound", handler.Receive)

	form := inboundForm("abc123def456@onetime.email", "alice@example.com")
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, postForm(router, form).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestInboundHandler_Describe(t *testing.T) {
	router, _ := newInboundTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks/inbound", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/v1/webhooks/inbound", body["endpoint"])
	assert.Equal(t, "POST", body["method"])
}
