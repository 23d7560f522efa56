package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"auctionhouse/bidding"
	"auctionhouse/models"
)

const (
	signatureHeader  = "X-Signature"
	maxWebhookBody   = 64 << 10
	maxTransactions  = 200
	paymentSucceeded = "succeeded"
)

type WalletResponse struct {
	Balance bidding.Cents `json:"balance"`
	Held    bidding.Cents `json:"held"`
	Total   bidding.Cents `json:"total"`
}

func (impl *ServerImpl) GetWallet(c *gin.Context) {
	profile, err := impl.store.GetProfile(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		impl.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, WalletResponse{
		Balance: bidding.Cents(profile.WalletBalance),
		Held:    bidding.Cents(profile.WalletHeld),
		Total:   bidding.Cents(profile.WalletBalance + profile.WalletHeld),
	})
}

// GetWalletTransactions lists the caller's ledger, newest first.
func (impl *ServerImpl) GetWalletTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxTransactions {
			c.JSON(http.StatusBadRequest, errorBody("limit must be between 1 and 200"))
			return
		}
		limit = v
	}
	txs, err := impl.store.ListWalletTransactions(c.Request.Context(), currentProfile(c).ID, limit)
	if err != nil {
		impl.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(txs, func(tx models.WalletTransaction, _ int) WalletTransactionResponse {
		return WalletTransactionResponse{
			ID:          tx.ID,
			Type:        tx.Type,
			Status:      tx.Status,
			Amount:      bidding.Cents(tx.Amount),
			ItemID:      tx.ItemID,
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt,
		}
	}))
}

type PaymentWebhookRequest struct {
	Reference string        `json:"reference"`
	UserID    uuid.UUID     `json:"userID"`
	Amount    bidding.Cents `json:"amount"`
	Status    string        `json:"status"`
}

// SignPayload returns the hex HMAC-SHA256 of body the payment provider puts
// in the X-Signature header.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// PostPaymentWebhook credits a completed payment to the user's wallet.
// Providers retry deliveries, so a reference is applied at most once.
func (impl *ServerImpl) PostPaymentWebhook(c *gin.Context) {
	const op = "PostPaymentWebhook"
	logger := impl.logger.With(slog.String("caller", op))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("cannot read body"))
		return
	}
	if !validSignature(impl.config.Payments.WebhookSecret, body, c.GetHeader(signatureHeader)) {
		logger.Warn("Reject webhook with bad signature")
		c.JSON(http.StatusUnauthorized, errorBody("invalid signature"))
		return
	}

	var req PaymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Reference == "" || req.UserID == uuid.Nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid payment event"))
		return
	}
	if req.Status != paymentSucceeded {
		logger.Info("Ignore payment event",
			slog.String("reference", req.Reference),
			slog.String("status", req.Status))
		c.JSON(http.StatusAccepted, gin.H{"applied": false})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, errorBody("amount must be positive"))
		return
	}

	tx, applied, err := impl.store.TopUp(c.Request.Context(), req.UserID, req.Amount, req.Reference)
	if err != nil {
		if errors.Is(err, bidding.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, errorBody("user not found"))
			return
		}
		impl.internalError(c, err)
		return
	}
	if applied {
		logger.Info("Wallet topped up",
			slog.String("userID", req.UserID.String()),
			slog.String("reference", req.Reference),
			slog.String("amount", req.Amount.String()))
	}
	c.JSON(http.StatusOK, gin.H{
		"applied":       applied,
		"transactionID": tx.ID,
	})
}
