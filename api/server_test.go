package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisAdapter "auctionhouse/adapters/redis"
	"auctionhouse/bidding"
	"auctionhouse/models"
)

func TestNewServerImpl_RequiresKey(t *testing.T) {
	_, err := newServerImpl(ServerConfig{}, nil, nil, nil, WithServerLogger(discardLogger))
	assert.ErrorIs(t, err, errMissingKey)

	_, err = newServerImpl(ServerConfig{Auth: AuthConfig{PublicKey: "not a key"}}, nil, nil, nil, WithServerLogger(discardLogger))
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	ts := newTestServer(t)
	userID := uuid.New()

	send := func(prepare func(r *http.Request)) int {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		prepare(req)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send(func(r *http.Request) {}))
	assert.Equal(t, http.StatusUnauthorized, send(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer garbage")
	}))
	assert.Equal(t, http.StatusUnauthorized, send(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ts.token(t, userID, -time.Minute))
	}))
	assert.Equal(t, http.StatusOK, send(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ts.token(t, userID, time.Minute))
	}))
	assert.Equal(t, http.StatusOK, send(func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: accessTokenCookie, Value: ts.token(t, userID, time.Minute)})
	}))

	profile, err := ts.impl.store.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "user-"+userID.String()[:8], profile.Username)
}

func TestParseAndValidateJWT(t *testing.T) {
	ts := newTestServer(t)

	sign := func(method jwt.SigningMethod, key any, claims JWT) string {
		signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return signed
	}
	expires := jwt.NewNumericDate(time.Now().Add(time.Hour))

	claims, err := ParseAndValidateJWT(
		sign(jwt.SigningMethodEdDSA, ts.privateKey, JWT{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: expires}}),
		ts.impl.publicKey)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.Subject)

	_, err = ParseAndValidateJWT(
		sign(jwt.SigningMethodEdDSA, ts.privateKey, JWT{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", ExpiresAt: expires}}),
		ts.impl.publicKey)
	assert.Error(t, err, "subject must be a user id")

	_, err = ParseAndValidateJWT(
		sign(jwt.SigningMethodEdDSA, ts.privateKey, JWT{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}}),
		ts.impl.publicKey)
	assert.Error(t, err, "expiry is required")

	_, err = ParseAndValidateJWT(
		sign(jwt.SigningMethodHS256, []byte("secret"), JWT{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: expires}}),
		ts.impl.publicKey)
	assert.Error(t, err, "only EdDSA is accepted")
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)
	seller := ts.profile(t, 0)
	alice := ts.profile(t, 10_00)
	auction := ts.auction(t, seller.ID, time.Hour)

	require.Equal(t, http.StatusCreated,
		ts.do(t, http.MethodPost, "/items/"+auction.Items[0].ID.String()+"/bids", alice.ID, bidBody("10.00")).Code)
	require.Equal(t, http.StatusConflict,
		ts.do(t, http.MethodPost, "/items/"+auction.Items[0].ID.String()+"/bids", alice.ID, bidBody("10.01")).Code)

	w := ts.do(t, http.MethodGet, "/metrics", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, `outcome="accepted"`)
	assert.Contains(t, body, `outcome="already_highest"`)
}

func heldHold(t *testing.T, ts *testServer, userID, itemID uuid.UUID, amount bidding.Cents) *models.WalletTransaction {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, ts.impl.store.HoldFunds(ctx, userID, amount))
	hold := &models.WalletTransaction{
		UserID: userID,
		Type:   models.WalletTransactionHold,
		Amount: int64(amount),
		Status: models.WalletTransactionActive,
		ItemID: &itemID,
	}
	require.NoError(t, ts.impl.store.RecordWalletTransaction(ctx, hold))
	return hold
}

func TestReconciliationWorker(t *testing.T) {
	ts := newTestServer(t)
	seller := ts.profile(t, 0)
	alice := ts.profile(t, 40_00)
	auction := ts.auction(t, seller.ID, time.Hour)
	itemID := auction.Items[0].ID
	hold := heldHold(t, ts, alice.ID, itemID, 15_00)

	rec := bidding.Reconciliation{
		ID:                uuid.New(),
		Kind:              bidding.ReconcileRelease,
		UserID:            alice.ID,
		ItemID:            itemID,
		Amount:            15_00,
		HoldTransactionID: &hold.ID,
		Reason:            "release funds: connection reset",
		At:                ts.now,
	}
	require.NoError(t, ts.impl.reconciliationProducer.Publish(rec))
	// a replay changes nothing
	require.NoError(t, ts.impl.reconciliationProducer.Publish(rec))

	assert.Eventually(t, func() bool {
		balance, held := balanceOf(t, ts, alice.ID)
		return balance == 40_00 && held == 0
	}, 5*time.Second, 20*time.Millisecond)

	stream := ts.impl.config.Redis.StreamKeys.Reconciliation
	assert.Eventually(t, func() bool {
		pending, err := ts.redis.XPending(context.Background(), stream, ts.impl.config.Redis.ConsumerGroup).Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond)

	txs, err := ts.impl.store.ListWalletTransactions(context.Background(), alice.ID, 10)
	require.NoError(t, err)
	var releases int
	for _, tx := range txs {
		if tx.Type == models.WalletTransactionRelease {
			releases++
		}
	}
	assert.Equal(t, 1, releases)
	n, err := ts.redis.XLen(context.Background(), redisAdapter.DeadLetterStream(stream)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciliationWorker_DeadLetters(t *testing.T) {
	ts := newTestServer(t)
	seller := ts.profile(t, 0)
	alice := ts.profile(t, 40_00)
	auction := ts.auction(t, seller.ID, time.Hour)

	// nothing is held, so the release cannot be covered
	rec := bidding.Reconciliation{
		ID:     uuid.New(),
		Kind:   bidding.ReconcileRelease,
		UserID: alice.ID,
		ItemID: auction.Items[0].ID,
		Amount: 5_00,
		Reason: "release funds: timeout",
		At:     ts.now,
	}
	require.NoError(t, ts.impl.reconciliationProducer.Publish(rec))

	deadLetters := redisAdapter.DeadLetterStream(ts.impl.config.Redis.StreamKeys.Reconciliation)
	assert.Eventually(t, func() bool {
		n, err := ts.redis.XLen(context.Background(), deadLetters).Result()
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := ts.redis.XRange(context.Background(), deadLetters, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Values["error"], "do not cover")

	balance, held := balanceOf(t, ts, alice.ID)
	assert.Equal(t, bidding.Cents(40_00), balance)
	assert.Equal(t, bidding.Cents(0), held)
}
