// Package billing integrates with the payment provider: creating checkout
// sessions and reconciling subscription state from webhook events.
package billing

import (
	"context"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// ProviderClient is the slice of the payment provider API the billing
// handlers call. Tests substitute a fake; production uses the Stripe
// client.
type ProviderClient interface {
	// CheckoutSession fetches a checkout session with line items expanded.
	CheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	// Customer fetches a customer.
	Customer(ctx context.Context, id string) (*stripe.Customer, error)
	// Subscription fetches a subscription.
	Subscription(ctx context.Context, id string) (*stripe.Subscription, error)
	// CreateCheckoutSession starts a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeClient implements ProviderClient against the Stripe API. The client
// holds its own key; nothing relies on the stripe package's global state.
type StripeClient struct {
	api *client.API
}

// NewStripeClient creates a Stripe-backed provider client.
func NewStripeClient(secretKey string) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api}
}

func (s *StripeClient) CheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Expand: []*string{stripe.String("line_items")},
	}
	params.Context = ctx
	return s.api.CheckoutSessions.Get(id, params)
}

func (s *StripeClient) Customer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return s.api.Customers.Get(id, params)
}

func (s *StripeClient) Subscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return s.api.Subscriptions.Get(id, params)
}

func (s *StripeClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return s.api.CheckoutSessions.New(params)
}
