package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/job-tracking/internal/models"
)

// StripeSettler releases or captures the funds held at booking once a job
// reaches a terminal status.
type StripeSettler struct{}

// NewStripeSettler initializes the stripe client with the given API key.
func NewStripeSettler(apiKey string) *StripeSettler {
	stripe.Key = apiKey
	return &StripeSettler{}
}

// Settle captures the hold for a completed job and cancels it for a
// cancelled one. Jobs without a payment intent are ignored.
func (s *StripeSettler) Settle(ctx context.Context, job *models.Job) error {
	if job.PaymentIntentID == "" {
		return nil
	}
	switch job.Status {
	case models.StatusCompleted:
		return s.Capture(ctx, job.PaymentIntentID)
	case models.StatusCancelled:
		return s.Cancel(ctx, job.PaymentIntentID)
	}
	return fmt.Errorf("settle job %s: status %s is not terminal", job.ID, job.Status)
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeSettler) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeSettler) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}
