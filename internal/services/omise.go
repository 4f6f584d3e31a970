package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/rs/zerolog/log"
)

// zeroDecimalCurrencies have no subunit, Omise amounts are already whole units
var zeroDecimalCurrencies = map[string]bool{"jpy": true}

// OmiseVerifier verifies deposits paid through Omise charges. The payment
// reference is the charge id. Omise amounts are in the currency's smallest
// unit (satang for THB); deposits are in whole units of one configured currency.
type OmiseVerifier struct {
	client   *omise.Client
	currency string
}

// NewOmiseVerifier creates an Omise-backed payment verifier for deposits in currency
func NewOmiseVerifier(publicKey, secretKey, currency string) (*OmiseVerifier, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return nil, fmt.Errorf("omise currency is required")
	}
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	return &OmiseVerifier{client: client, currency: currency}, nil
}

// VerifyPayment retrieves the charge. The lookup is abandoned when ctx ends.
func (v *OmiseVerifier) VerifyPayment(ctx context.Context, ref string) (*models.Payment, error) {
	type result struct {
		charge *omise.Charge
		err    error
	}
	done := make(chan result, 1)

	go func() {
		charge := &omise.Charge{}
		err := v.client.Do(charge, &operations.RetrieveCharge{ChargeID: ref})
		done <- result{charge: charge, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("omise charge lookup: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to retrieve omise charge: %w", r.err)
		}
		log.Info().
			Str("charge_id", ref).
			Str("status", string(r.charge.Status)).
			Bool("paid", r.charge.Paid).
			Int64("amount", r.charge.Amount).
			Str("currency", r.charge.Currency).
			Msg("Omise charge retrieved")
		return chargePayment(ref, r.charge, v.currency)
	}
}

// chargePayment maps a charge onto the gateway-neutral payment view, converting
// the subunit amount to whole units of currency
func chargePayment(ref string, charge *omise.Charge, currency string) (*models.Payment, error) {
	if got := strings.ToLower(charge.Currency); got != currency {
		return nil, apperr.Validationf("charge %s is in %q, deposits are taken in %q", ref, got, currency)
	}

	amount := charge.Amount
	if !zeroDecimalCurrencies[currency] {
		if amount%100 != 0 {
			return nil, apperr.Validationf("charge %s amount %d is not a whole %s amount", ref, amount, currency)
		}
		amount /= 100
	}

	status := string(charge.Status)
	if charge.Paid && charge.Status == omise.ChargeSuccessful {
		status = models.PaymentPaid
	}
	return &models.Payment{Ref: ref, Amount: amount, Status: status}, nil
}
