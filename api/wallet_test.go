package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

func TestGetWallet(t *testing.T) {
	ts := newTestServer(t)
	seller := ts.profile(t, 0)
	alice := ts.profile(t, 30_00)
	auction := ts.auction(t, seller.ID, time.Hour)

	require.Equal(t, http.StatusCreated,
		ts.do(t, http.MethodPost, "/items/"+auction.Items[1].ID.String()+"/bids", alice.ID, bidBody("7.25")).Code)

	w := ts.do(t, http.MethodGet, "/wallet", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	wallet := decode[map[string]string](t, w)
	assert.Equal(t, map[string]string{"balance": "22.75", "held": "7.25", "total": "30.00"}, wallet)

	// a first request creates an empty wallet
	newcomer := uuid.New()
	w = ts.do(t, http.MethodGet, "/wallet", newcomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"balance": "0.00", "held": "0.00", "total": "0.00"}, decode[map[string]string](t, w))
}

func TestGetWalletTransactions(t *testing.T) {
	ts := newTestServer(t)
	seller := ts.profile(t, 0)
	alice := ts.profile(t, 30_00)
	auction := ts.auction(t, seller.ID, time.Hour)

	require.Equal(t, http.StatusCreated,
		ts.do(t, http.MethodPost, "/items/"+auction.Items[0].ID.String()+"/bids", alice.ID, bidBody("10.00")).Code)

	w := ts.do(t, http.MethodGet, "/wallet/transactions", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode[[]WalletTransactionResponse](t, w)
	require.Len(t, txs, 2)
	types := []models.WalletTransactionType{txs[0].Type, txs[1].Type}
	assert.ElementsMatch(t, []models.WalletTransactionType{models.WalletTransactionTopUp, models.WalletTransactionHold}, types)
	for _, tx := range txs {
		if tx.Type == models.WalletTransactionHold {
			assert.Equal(t, bidding.Cents(1000), tx.Amount)
			assert.Equal(t, models.WalletTransactionActive, tx.Status)
			require.NotNil(t, tx.ItemID)
			assert.Equal(t, auction.Items[0].ID, *tx.ItemID)
		}
	}

	w = ts.do(t, http.MethodGet, "/wallet/transactions?limit=1", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]WalletTransactionResponse](t, w), 1)

	for _, limit := range []string{"0", "-3", "201", "many"} {
		w = ts.do(t, http.MethodGet, "/wallet/transactions?limit="+limit, alice.ID, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, limit)
	}
}

func TestPostPaymentWebhook(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.profile(t, 0)
	event := PaymentWebhookRequest{
		Reference: "pay_123",
		UserID:    alice.ID,
		Amount:    25_00,
		Status:    "succeeded",
	}

	req, _ := signedRequest(t, event)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.Equal(t, true, first["applied"])
	assert.NotEmpty(t, first["transactionID"])

	// redelivery
	req, _ = signedRequest(t, event)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[map[string]any](t, w)
	assert.Equal(t, false, second["applied"])
	assert.Equal(t, first["transactionID"], second["transactionID"])

	balance, _ := balanceOf(t, ts, alice.ID)
	assert.Equal(t, bidding.Cents(25_00), balance)
}

func TestPostPaymentWebhook_Rejections(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.profile(t, 0)
	valid := PaymentWebhookRequest{Reference: "pay_1", UserID: alice.ID, Amount: 10_00, Status: "succeeded"}

	t.Run("missing signature", func(t *testing.T) {
		req, _ := signedRequest(t, valid)
		req.Header.Del(signatureHeader)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("signed with another secret", func(t *testing.T) {
		req, raw := signedRequest(t, valid)
		req.Header.Set(signatureHeader, SignPayload("other", raw))
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("not succeeded", func(t *testing.T) {
		event := valid
		event.Status = "failed"
		req, _ := signedRequest(t, event)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		event := valid
		event.UserID = uuid.New()
		event.Reference = "pay_unknown"
		req, _ := signedRequest(t, event)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no reference", func(t *testing.T) {
		event := valid
		event.Reference = ""
		req, _ := signedRequest(t, event)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("zero amount", func(t *testing.T) {
		event := valid
		event.Amount = 0
		req, _ := signedRequest(t, event)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	balance, _ := balanceOf(t, ts, alice.ID)
	assert.Equal(t, bidding.Cents(0), balance)
}

func TestSignPayload(t *testing.T) {
	body := []byte(`{"reference":"pay_1"}`)
	sig := SignPayload("secret", body)
	assert.Len(t, sig, 64)
	assert.True(t, validSignature("secret", body, sig))
	assert.False(t, validSignature("secret", append(body, ' '), sig))
	assert.False(t, validSignature("", body, SignPayload("", body)))
	assert.False(t, validSignature("secret", body, "zz"))
}
