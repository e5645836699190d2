package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"onetimemail/backend/internal/domain"
	"onetimemail/backend/internal/storage/memory"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func newTestAuthenticator(t *testing.T) (*Authenticator, *memory.Store, time.Time) {
	t.Helper()

	store := memory.NewStore()
	pattern := domain.NewAddressPattern("onetime.email", 12)
	auth := NewAuthenticator(store, store, pattern, Options{
		SigningKey:     testSigningKey,
		ReplayWindow:   300 * time.Second,
		RateWindow:     60 * time.Second,
		SenderLimit:    10,
		RecipientLimit: 15,
		MaxContentSize: 1024 * 1024,
	}, zap.NewNop())

	now := time.Unix(1700000000, 0).UTC()
	auth.now = func() time.Time { return now }
	return auth, store, now
}

func seedInbox(t *testing.T, store *memory.Store, address string, active bool, expiresAt time.Time) *domain.Inbox {
	t.Helper()

	inbox := &domain.Inbox{
		ID:        "inbox-" + address,
		Address:   address,
		LocalPart: strings.SplitN(address, "@", 2)[0],
		Domain:    "onetime.email",
		Token:     "token-" + address,
		UserID:    "user-1",
		CreatedAt: time.Unix(1699999000, 0).UTC(),
		ExpiresAt: expiresAt,
		IsActive:  active,
	}
	require.NoError(t, store.SaveInbox(inbox))
	return inbox
}

func signedPayload(now time.Time, recipient, sender string) *Payload {
	verifier := NewSignatureVerifier(testSigningKey)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	token := "delivery-token"

	return &Payload{
		Timestamp: timestamp,
		Token:     token,
		Signature: verifier.Sign(timestamp, token),
		Recipient: recipient,
		Sender:    sender,
		Subject:   "hello",
		BodyPlain: "plain body",
		BodyHTML:  "<p>html body</p>",
		MessageID: "<abc@mail.example>",
		UserAgent: "mail-gateway/1.0",
	}
}

func TestAuthenticate_Success(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	seedInbox(t, store, "abc123def456@onetime.email", true, now.Add(5*time.Minute))

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	receipt, failure := auth.Authenticate(payload)

	require.Nil(t, failure)
	require.NotNil(t, receipt)
	assert.Equal(t, "inbox-abc123def456@onetime.email", receipt.InboxID)
	assert.Equal(t, "alice@example.com", receipt.Sender)

	// Size is twice the combined character count
	chars := utf8.RuneCountInString(payload.Subject) +
		utf8.RuneCountInString(payload.BodyPlain) +
		utf8.RuneCountInString(payload.BodyHTML)
	assert.Equal(t, chars*2, receipt.SizeBytes)

	// Message persisted with headers preserved
	messages, err := store.ListMessages(receipt.InboxID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "<abc@mail.example>", messages[0].Headers["Message-Id"])
	assert.Equal(t, "mail-gateway/1.0", messages[0].Headers["User-Agent"])
	assert.False(t, messages[0].IsRead)
}

func TestAuthenticate_MissingSignatureParams(t *testing.T) {
	auth, _, now := newTestAuthenticator(t)

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	payload.Signature = ""

	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailMissingSignature, failure.Code)
	assert.Equal(t, http.StatusUnauthorized, failure.Status)
}

func TestAuthenticate_InvalidSignature(t *testing.T) {
	auth, _, now := newTestAuthenticator(t)

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	payload.Signature = strings.Repeat("0", len(payload.Signature))

	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailInvalidSignature, failure.Code)
	assert.Equal(t, http.StatusUnauthorized, failure.Status)
}

func TestAuthenticate_ReplayWindow(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	seedInbox(t, store, "abc123def456@onetime.email", true, now.Add(5*time.Minute))

	// Exactly 300 seconds old is still accepted
	payload := signedPayload(now.Add(-300*time.Second), "abc123def456@onetime.email", "alice@example.com")
	_, failure := auth.Authenticate(payload)
	assert.Nil(t, failure)

	// 301 seconds old is rejected
	payload = signedPayload(now.Add(-301*time.Second), "abc123def456@onetime.email", "bob@example.com")
	_, failure = auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailStaleRequest, failure.Code)
	assert.Equal(t, http.StatusUnauthorized, failure.Status)
}

func TestAuthenticate_SenderRateLimit(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	seedInbox(t, store, "abc123def456@onetime.email", true, now.Add(5*time.Minute))

	for i := 0; i < 10; i++ {
		payload := signedPayload(now, "abc123def456@onetime.email", "flooder@example.com")
		_, failure := auth.Authenticate(payload)
		require.Nil(t, failure, "event %d should pass", i+1)
	}

	// The 11th event from the same sender inside the window is rejected
	payload := signedPayload(now, "abc123def456@onetime.email", "flooder@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailRateLimited, failure.Code)
	assert.Equal(t, http.StatusTooManyRequests, failure.Status)
	assert.Equal(t, "flooder@example.com", failure.Extra["sender"])
}

func TestAuthenticate_RecipientRateLimit(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	seedInbox(t, store, "abc123def456@onetime.email", true, now.Add(5*time.Minute))

	// 15 deliveries from distinct senders fill the recipient window
	for i := 0; i < 15; i++ {
		sender := fmt.Sprintf("sender%d@example.com", i)
		payload := signedPayload(now, "abc123def456@onetime.email", sender)
		_, failure := auth.Authenticate(payload)
		require.Nil(t, failure, "event %d should pass", i+1)
	}

	payload := signedPayload(now, "abc123def456@onetime.email", "late@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailRateLimited, failure.Code)
	assert.Equal(t, "abc123def456@onetime.email", failure.Extra["recipient"])
}

func TestAuthenticate_MissingFields(t *testing.T) {
	auth, _, now := newTestAuthenticator(t)

	payload := signedPayload(now, "", "alice@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailMalformedPayload, failure.Code)
	assert.Equal(t, http.StatusBadRequest, failure.Status)

	payload = signedPayload(now, "abc123def456@onetime.email", "")
	_, failure = auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailMalformedPayload, failure.Code)
}

func TestAuthenticate_AddressFormat(t *testing.T) {
	auth, _, now := newTestAuthenticator(t)

	cases := []string{
		"short@onetime.email",             // local part too short
		"abc123def456@other.example",      // wrong domain
		"ABC123DEF456@onetime.email",      // uppercase not allowed
		"abc123def45!@onetime.email",      // punctuation not allowed
		"abc123def4567@onetime.email",     // local part too long
		"not-an-address",                  // no @ at all
	}

	for _, recipient := range cases {
		payload := signedPayload(now, recipient, "alice@example.com")
		_, failure := auth.Authenticate(payload)
		require.NotNil(t, failure, "recipient %q should be rejected", recipient)
		assert.Equal(t, FailUnknownAddress, failure.Code)
		assert.Equal(t, http.StatusBadRequest, failure.Status)
	}
}

func TestAuthenticate_ContentTooLarge(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	auth.maxContentSize = 100
	seedInbox(t, store, "abc123def456@onetime.email", true, now.Add(5*time.Minute))

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	payload.BodyPlain = strings.Repeat("x", 101)
	payload.Subject = ""
	payload.BodyHTML = ""

	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailPayloadTooLarge, failure.Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, failure.Status)
	assert.Equal(t, 101, failure.Extra["size"])
	assert.Equal(t, 100, failure.Extra["max"])
}

func TestAuthenticate_SuspiciousContent(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	seedInbox(t, store, "abc123def456@onetime.email", true, now.Add(5*time.Minute))

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	payload.BodyHTML = `<p>click <a href="javascript:alert(1)">here</a></p>`

	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailSuspiciousContent, failure.Code)
	assert.Equal(t, http.StatusBadRequest, failure.Status)
}

func TestAuthenticate_UnknownInbox(t *testing.T) {
	auth, _, now := newTestAuthenticator(t)

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailUnknownInbox, failure.Code)
	assert.Equal(t, http.StatusNotFound, failure.Status)
}

// lookupFailStore 模拟收件箱查询时的存储故障。
type lookupFailStore struct {
	*memory.Store
}

func (s *lookupFailStore) GetInboxByAddress(address string) (*domain.Inbox, error) {
	return nil, errors.New("storage unavailable")
}

func TestAuthenticate_InboxLookupFailure(t *testing.T) {
	store := &lookupFailStore{Store: memory.NewStore()}
	pattern := domain.NewAddressPattern("onetime.email", 12)
	auth := NewAuthenticator(store, store.Store, pattern, Options{
		SigningKey:     testSigningKey,
		ReplayWindow:   300 * time.Second,
		RateWindow:     60 * time.Second,
		SenderLimit:    10,
		RecipientLimit: 15,
		MaxContentSize: 1024 * 1024,
	}, zap.NewNop())

	now := time.Unix(1700000000, 0).UTC()
	auth.now = func() time.Time { return now }

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailStorage, failure.Code, "storage outage must not look like a missing inbox")
	assert.Equal(t, http.StatusInternalServerError, failure.Status)
}

func TestAuthenticate_InactiveInbox(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	seedInbox(t, store, "abc123def456@onetime.email", false, now.Add(5*time.Minute))

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailUnknownInbox, failure.Code)
	assert.Equal(t, http.StatusNotFound, failure.Status)
}

func TestAuthenticate_ExpiredInbox(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	seedInbox(t, store, "abc123def456@onetime.email", true, now.Add(-time.Minute))

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailInboxExpired, failure.Code)
	assert.Equal(t, http.StatusGone, failure.Status)
	assert.NotNil(t, failure.Extra["expires_at"])
}

func TestAuthenticate_ExpiryWinsOverActiveFlag(t *testing.T) {
	auth, store, now := newTestAuthenticator(t)
	// Expired AND deactivated: expiry takes precedence
	seedInbox(t, store, "abc123def456@onetime.email", false, now.Add(-time.Minute))

	payload := signedPayload(now, "abc123def456@onetime.email", "alice@example.com")
	_, failure := auth.Authenticate(payload)
	require.NotNil(t, failure)
	assert.Equal(t, FailInboxExpired, failure.Code)
	assert.Equal(t, http.StatusGone, failure.Status)
}
