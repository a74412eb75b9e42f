package billing

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
)

// CheckoutHandler creates hosted checkout sessions for the frontend.
type CheckoutHandler struct {
	provider ProviderClient
	logger   *slog.Logger
}

// NewCheckoutHandler creates a checkout handler.
func NewCheckoutHandler(provider ProviderClient) *CheckoutHandler {
	return &CheckoutHandler{provider: provider, logger: slog.Default()}
}

// WithLogger sets the logger for the handler.
func (h *CheckoutHandler) WithLogger(l *slog.Logger) *CheckoutHandler {
	tmp := *h
	tmp.logger = l
	return &tmp
}

type checkoutRequest struct {
	PriceID    string `json:"priceId"`
	Mode       string `json:"mode"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// CreateCheckout validates the request and starts a hosted checkout
// session, returning its URL. The redirect URLs must point back at the
// requesting host so the endpoint can't be used as an open redirect.
func (h *CheckoutHandler) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	switch {
	case req.PriceID == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Price ID is required"})
		return
	case req.SuccessURL == "" || req.CancelURL == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Success and cancel URLs are required"})
		return
	case req.Mode == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Mode is required (either 'payment' for one-time payments or 'subscription' for recurring subscription)"})
		return
	case req.Mode != "payment" && req.Mode != "subscription":
		c.JSON(http.StatusBadRequest, gin.H{"error": "Mode must be either 'payment' or 'subscription'"})
		return
	}

	if c.Request.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request host"})
		return
	}
	if !sameHost(req.SuccessURL, c.Request.Host) || !sameHost(req.CancelURL, c.Request.Host) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URLs must be from the same domain"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(req.Mode),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}

	sess, err := h.provider.CreateCheckoutSession(c.Request.Context(), params)
	if err != nil {
		h.logger.Error("Failed to create checkout session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

func sameHost(rawURL, host string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Host == host
}

// Routes registers the billing endpoints.
func Routes(r gin.IRouter, rec *Reconciler, checkout *CheckoutHandler) {
	r.POST("/api/webhook/stripe", rec.Webhook)
	r.POST("/api/stripe/create-checkout", checkout.CreateCheckout)
}
