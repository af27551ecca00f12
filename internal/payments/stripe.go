package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Processor is what dispatch needs from the payment collaborator: hold the
// fare when a driver takes the order, capture on completion, release on
// cancellation. The processing itself lives with the provider.
type Processor interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Release(ctx context.Context, holdID string) error
}

// StripeProcessor implements Processor on Stripe PaymentIntents with manual
// capture.
type StripeProcessor struct {
	currency string
}

func NewStripeProcessor(apiKey, currency string) *StripeProcessor {
	stripe.Key = apiKey
	if currency == "" {
		currency = "xaf"
	}
	return &StripeProcessor{currency: currency}
}

func (s *StripeProcessor) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	if currency == "" {
		currency = s.currency
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeProcessor) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

func (s *StripeProcessor) Release(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
