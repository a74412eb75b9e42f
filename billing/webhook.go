package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/dailyfuel/dailyfuel/config"
	"github.com/dailyfuel/dailyfuel/identity"
	"github.com/dailyfuel/dailyfuel/store"
)

// Event payloads are unbounded on the provider side; the cap only guards
// against abuse. Oversized requests are rejected explicitly rather than
// truncated, since a truncated body would fail signature verification with
// a misleading error.
const maxWebhookBodyBytes = int64(1 << 20)

// UserDirectory is the slice of the user store the reconciler mutates.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*store.User, error)
	GetByEmail(ctx context.Context, email string) (*store.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*store.User, error)
	Insert(ctx context.Context, u *store.User) error
	ApplySubscription(ctx context.Context, userID, customerID, priceID string, periodEnd *time.Time) error
	SetStatus(ctx context.Context, customerID, status string, periodEnd *time.Time) error
	MarkCanceled(ctx context.Context, customerID string) error
	RenewSubscription(ctx context.Context, customerID string, periodEnd *time.Time) error
	MarkPastDue(ctx context.Context, customerID string) error
}

var _ UserDirectory = (*store.UserStore)(nil)

// Reconciler consumes payment provider events and updates user
// subscription state to match. Each event touches at most one user row and
// every transition is a plain field overwrite, so redelivered events are
// idempotent.
type Reconciler struct {
	users         UserDirectory
	provider      ProviderClient
	identity      identity.Provisioner
	plans         []config.Plan
	webhookSecret string
	logger        *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(users UserDirectory, provider ProviderClient, provisioner identity.Provisioner, plans []config.Plan, webhookSecret string) *Reconciler {
	return &Reconciler{
		users:         users,
		provider:      provider,
		identity:      provisioner,
		plans:         plans,
		webhookSecret: webhookSecret,
		logger:        slog.Default(),
	}
}

// WithLogger sets the logger for the reconciler.
func (r *Reconciler) WithLogger(l *slog.Logger) *Reconciler {
	tmp := *r
	tmp.logger = l
	return &tmp
}

// Webhook handles provider event notifications. Signature and request
// shape problems are client errors so the provider stops redelivering; a
// failure inside one event's business logic is logged and the response is
// still a 200, because redelivering the identical event would fail the
// identical way. See the tradeoff note on apply.
func (r *Reconciler) Webhook(c *gin.Context) {
	if r.webhookSecret == "" {
		r.logger.Error("Webhook secret is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payload"})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, sigHeader, r.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		r.logger.Warn("Webhook signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	if err := r.apply(c.Request.Context(), event); err != nil {
		r.logger.Error("Event processing failed", "type", event.Type, "id", event.ID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// apply dispatches one verified event to its transition. Errors returned
// here never fail the HTTP response: the provider's redelivery of a
// semantically broken event (unknown customer, mismatched price) would just
// fail again and retry-storm. The cost is that an event dropped on a
// transient store error is lost until the provider sends a newer one for
// the same subscription.
func (r *Reconciler) apply(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("failed to decode checkout session: %w", err)
		}
		return r.checkoutCompleted(ctx, &sess)

	case "checkout.session.expired":
		// The customer walked away from checkout. Nothing to reconcile.
		return nil

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to decode subscription: %w", err)
		}
		return r.subscriptionUpdated(ctx, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to decode subscription: %w", err)
		}
		return r.subscriptionDeleted(ctx, &sub)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("failed to decode invoice: %w", err)
		}
		return r.invoicePaid(ctx, &inv)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("failed to decode invoice: %w", err)
		}
		return r.invoicePaymentFailed(ctx, &inv)

	default:
		// Deliberate no-op for event types we don't act on.
		r.logger.Info("Ignoring unhandled event", "type", event.Type)
		return nil
	}
}

// checkoutCompleted grants subscriber status after the first successful
// payment. This is the only transition that may create a user: guest
// checkouts are resolved by customer email, provisioning an account when
// none exists.
func (r *Reconciler) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	if sess.ID == "" {
		return errors.New("checkout session has no id")
	}

	full, err := r.provider.CheckoutSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch checkout session %s: %w", sess.ID, err)
	}

	var customerID, priceID string
	if full.Customer != nil {
		customerID = full.Customer.ID
	}
	if full.LineItems != nil && len(full.LineItems.Data) > 0 && full.LineItems.Data[0].Price != nil {
		priceID = full.LineItems.Data[0].Price.ID
	}
	if customerID == "" || priceID == "" {
		return fmt.Errorf("checkout session %s is missing customer or price", sess.ID)
	}

	if _, ok := findPlan(r.plans, priceID); !ok {
		return fmt.Errorf("no plan configured for price %s", priceID)
	}

	cust, err := r.provider.Customer(ctx, customerID)
	if err != nil {
		return fmt.Errorf("failed to fetch customer %s: %w", customerID, err)
	}
	if cust.Deleted {
		return fmt.Errorf("customer %s was deleted", customerID)
	}
	if cust.Email == "" {
		return fmt.Errorf("customer %s has no email", customerID)
	}

	user, err := r.resolveUser(ctx, sess.ClientReferenceID, cust)
	if err != nil {
		return err
	}

	periodEnd := r.periodEndFromSubscription(ctx, full.Subscription)

	if err := r.users.ApplySubscription(ctx, user.ID, customerID, priceID, periodEnd); err != nil {
		return fmt.Errorf("failed to update user %s after checkout: %w", user.ID, err)
	}
	return nil
}

// resolveUser finds the user a completed checkout belongs to. A client
// reference id is authoritative: it was set at checkout initiation by an
// authenticated user, so a miss is an error, not a signal to create one.
func (r *Reconciler) resolveUser(ctx context.Context, userID string, cust *stripe.Customer) (*store.User, error) {
	if userID != "" {
		user, err := r.users.GetByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("checkout referenced unknown user %s: %w", userID, err)
		}
		return user, nil
	}

	user, err := r.users.GetByEmail(ctx, cust.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user by email: %w", err)
	}

	id, err := r.identity.CreateUser(ctx, cust.Email, cust.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to provision account for %s: %w", cust.Email, err)
	}

	user = &store.User{ID: id, Email: cust.Email, Name: cust.Name}
	if err := r.users.Insert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to insert user %s: %w", id, err)
	}
	return user, nil
}

// periodEndFromSubscription resolves the paid-period expiry from the
// subscription attached to a checkout. Failure to fetch it leaves the
// period end unset rather than failing the whole transition.
func (r *Reconciler) periodEndFromSubscription(ctx context.Context, sub *stripe.Subscription) *time.Time {
	if sub == nil || sub.ID == "" {
		return nil
	}
	full, err := r.provider.Subscription(ctx, sub.ID)
	if err != nil {
		r.logger.Warn("Failed to fetch subscription, leaving period end unset", "subscription", sub.ID, "error", err)
		return nil
	}
	t := time.Unix(full.CurrentPeriodEnd, 0).UTC()
	return &t
}

// subscriptionUpdated mirrors the provider-reported status, for example
// when the customer changes plan.
func (r *Reconciler) subscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return errors.New("subscription update has no customer")
	}
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	if err := r.users.SetStatus(ctx, sub.Customer.ID, string(sub.Status), &periodEnd); err != nil {
		return fmt.Errorf("failed to update status for customer %s: %w", sub.Customer.ID, err)
	}
	return nil
}

// subscriptionDeleted revokes subscriber status. The customer link stays
// on the row for history.
func (r *Reconciler) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return errors.New("subscription deletion has no customer")
	}
	if err := r.users.MarkCanceled(ctx, sub.Customer.ID); err != nil {
		return fmt.Errorf("failed to cancel subscription for customer %s: %w", sub.Customer.ID, err)
	}
	return nil
}

// invoicePaid refreshes subscriber status on a recurring payment, but only
// when the invoice is for the price the user actually subscribed to.
func (r *Reconciler) invoicePaid(ctx context.Context, inv *stripe.Invoice) error {
	var customerID, priceID string
	if inv.Customer != nil {
		customerID = inv.Customer.ID
	}
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Price != nil {
		priceID = inv.Lines.Data[0].Price.ID
	}
	if customerID == "" || priceID == "" {
		return errors.New("paid invoice is missing customer or price")
	}

	user, err := r.users.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("no user for customer %s: %w", customerID, err)
	}

	if user.PriceID == nil || *user.PriceID != priceID {
		return fmt.Errorf("invoice price %s does not match subscribed price for customer %s", priceID, customerID)
	}

	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// One-off invoice with no subscription attached. Nothing to refresh.
		return nil
	}

	sub, err := r.provider.Subscription(ctx, inv.Subscription.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", inv.Subscription.ID, err)
	}
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()

	if err := r.users.RenewSubscription(ctx, customerID, &periodEnd); err != nil {
		return fmt.Errorf("failed to renew subscription for customer %s: %w", customerID, err)
	}
	return nil
}

// invoicePaymentFailed flags the subscription as past due. Subscriber
// status stays as-is: the provider retries the payment and eventually
// sends a deleted-subscription event if it keeps failing.
func (r *Reconciler) invoicePaymentFailed(ctx context.Context, inv *stripe.Invoice) error {
	if inv.Customer == nil || inv.Customer.ID == "" {
		return errors.New("failed invoice has no customer")
	}
	if err := r.users.MarkPastDue(ctx, inv.Customer.ID); err != nil {
		return fmt.Errorf("failed to mark customer %s past due: %w", inv.Customer.ID, err)
	}
	return nil
}

func findPlan(plans []config.Plan, priceID string) (config.Plan, bool) {
	for _, p := range plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return config.Plan{}, false
}
