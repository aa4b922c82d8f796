package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/mebike/rental-backend/internal/middleware"
)

func (a *API) walletHandler(c *gin.Context) {
	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	w, err := a.wr.Get(c.Request.Context(), u.ID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      w.ID,
		"balance": w.Balance,
		"status":  w.Status,
	})
}

func (a *API) walletTransactionsHandler(c *gin.Context) {
	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	w, err := a.wr.Get(c.Request.Context(), u.ID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	ts, err := a.wr.ListTransactions(c.Request.Context(), w.ID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

type topUpRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// topUpHandler opens a Stripe payment for the requested amount. The wallet is
// credited by the webhook once the payment settles, never here.
func (a *API) topUpHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req topUpRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := a.currentUser(c)
	if err != nil {
		a.respondError(c, err)
		return
	}

	pi, err := paymentintent.New(&stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(string(stripe.CurrencyVND)),
		Metadata: map[string]string{
			"userId": u.ID.String(),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	})
	if err != nil {
		logger.Error("Failed to create payment intent", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"paymentIntentId": pi.ID,
		"clientSecret":    pi.ClientSecret,
	})
}

func (a *API) stripeWebhookHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 65536))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), a.cfg.StripeWebhookSecret)
	if err != nil {
		logger.Error("Webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	if event.Type != "payment_intent.succeeded" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		logger.Error("Failed to decode payment intent", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := uuid.Parse(pi.Metadata["userId"])
	if err != nil {
		logger.Error("Payment intent missing userId metadata", "paymentIntentId", pi.ID)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	// The hash ties the credit to the payment intent, so Stripe retrying the
	// webhook cannot double-credit.
	_, err = a.wr.TopUp(c.Request.Context(), userID, pi.AmountReceived,
		fmt.Sprintf("topup:stripe:%s", pi.ID),
		fmt.Sprintf("Wallet top-up %s", pi.ID))
	if err != nil {
		logger.Error("Failed to credit wallet", "error", err, "paymentIntentId", pi.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
