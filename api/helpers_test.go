package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"auctionhouse/bidding"
	"auctionhouse/models"
	"auctionhouse/store"
)

const webhookSecret = "whsec_test"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	calls []uuid.UUID
}

func (f *fakeUploader) UploadItemImage(ctx context.Context, itemID uuid.UUID, body io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID)
	if f.err != nil {
		return "", f.err
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	return "https://cdn.example.com/items/" + itemID.String() + "/image.png", nil
}

type testServer struct {
	impl       *ServerImpl
	router     *gin.Engine
	db         *gorm.DB
	redis      *redis.Client
	miniredis  *miniredis.Miniredis
	uploader   *fakeUploader
	privateKey ed25519.PrivateKey
	now        time.Time
}

type testServerOption func(*ServerConfig)

func newTestServer(t *testing.T, opts ...testServerOption) *testServer {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, store.Migrate(db))

	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	config := ServerConfig{
		ID:       "api-test",
		Auth:     AuthConfig{PublicKey: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))},
		Payments: PaymentsConfig{WebhookSecret: webhookSecret},
		Redis: RedisConfig{
			StreamKeys: RedisStreamKeys{
				ChangeFeed:     "auctionhouse:changes",
				Reconciliation: "auctionhouse:reconciliations",
			},
			ConsumerGroup: "api",
		},
	}
	for _, opt := range opts {
		opt(&config)
	}

	ts := &testServer{
		db:         db,
		redis:      client,
		miniredis:  server,
		uploader:   &fakeUploader{},
		privateKey: priv,
		now:        time.Now().Truncate(time.Second),
	}
	impl, err := newServerImpl(config, db, client, ts.uploader,
		WithServerLogger(discardLogger),
		WithServerClock(func() time.Time { return ts.now }),
		WithKeepAlive(50*time.Millisecond),
	)
	require.NoError(t, err)
	impl.Start()
	t.Cleanup(impl.Close)

	router := gin.New()
	impl.RegisterHandlers(router)
	ts.impl = impl
	ts.router = router
	return ts
}

func (ts *testServer) token(t *testing.T, userID uuid.UUID, expiresIn time.Duration) string {
	t.Helper()
	claims := JWT{
		Username: "user-" + userID.String()[:8],
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ts.privateKey)
	require.NoError(t, err)
	return signed
}

// do sends a request as userID; uuid.Nil sends it without a token.
func (ts *testServer) do(t *testing.T, method, target string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, userID, time.Hour))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) profile(t *testing.T, balance bidding.Cents) models.Profile {
	t.Helper()
	ctx := context.Background()
	p, err := ts.impl.store.EnsureProfile(ctx, uuid.New(), "bidder")
	require.NoError(t, err)
	if balance > 0 {
		_, _, err := ts.impl.store.TopUp(ctx, p.ID, balance, "seed-"+p.ID.String())
		require.NoError(t, err)
	}
	return *p
}

// auction creates an auction of ownerID that is open now with two items.
func (ts *testServer) auction(t *testing.T, ownerID uuid.UUID, endsIn time.Duration) models.Auction {
	t.Helper()
	auction := models.Auction{
		OwnerID:   ownerID,
		Title:     "Estate sale",
		StartTime: ts.now.Add(-time.Hour),
		EndTime:   ts.now.Add(endsIn),
		Items: []models.Item{
			{Title: "Oak desk", MinBid: 1000},
			{Title: "Brass lamp", MinBid: 500},
		},
	}
	require.NoError(t, ts.impl.store.CreateAuction(context.Background(), &auction))
	return auction
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func balanceOf(t *testing.T, ts *testServer, userID uuid.UUID) (balance, held bidding.Cents) {
	t.Helper()
	p, err := ts.impl.store.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return bidding.Cents(p.WalletBalance), bidding.Cents(p.WalletHeld)
}

func signedRequest(t *testing.T, body any) (*http.Request, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, SignPayload(webhookSecret, raw))
	return req, raw
}
