package validator

import (
	"strings"
	"testing"

	"collection-payments/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() domain.ChargeRequest {
	return domain.ChargeRequest{
		SourceID:       "cnon:card-nonce-ok",
		CollectionSlug: "spring-fees",
		Amount:         "25.00",
		PayerEmail:     "a@example.com",
		PayerName:      "Alex Doe",
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw   string
		want  string
		err   error
		cents int64
	}{
		{raw: "25.00", want: "25", cents: 2500},
		{raw: " 1 ", want: "1", cents: 100},
		{raw: "10000", want: "10000", cents: 1000000},
		{raw: "19.999", want: "20", cents: 2000},
		{raw: "12.345", want: "12.35", cents: 1235},
		{raw: "0.50", err: ErrAmountTooSmall},
		{raw: "0.994", err: ErrAmountTooSmall},
		{raw: "0.995", err: ErrAmountTooSmall},
		{raw: "0.9999", err: ErrAmountTooSmall},
		{raw: "1.004", want: "1", cents: 100},
		{raw: "10000.004", err: ErrAmountTooLarge},
		{raw: "-5", err: ErrAmountTooSmall},
		{raw: "10000.01", err: ErrAmountTooLarge},
		{raw: "abc", err: ErrInvalidAmount},
		{raw: "", err: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
			assert.Equal(t, tt.cents, ToCents(got))
		})
	}
}

func TestParseAmount_MinimumMessage(t *testing.T) {
	_, err := ParseAmount("0.50")
	assert.EqualError(t, err, "minimum payment amount is $1.00")
}

func TestValidateChargeRequest(t *testing.T) {
	amount, err := ValidateChargeRequest(validRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(2500), ToCents(amount))

	tests := []struct {
		name   string
		mutate func(*domain.ChargeRequest)
		err    error
	}{
		{"bad email", func(r *domain.ChargeRequest) { r.PayerEmail = "not-an-email" }, ErrInvalidEmail},
		{"empty email", func(r *domain.ChargeRequest) { r.PayerEmail = "  " }, ErrEmptyEmail},
		{"short name", func(r *domain.ChargeRequest) { r.PayerName = " A " }, ErrNameTooShort},
		{"long name", func(r *domain.ChargeRequest) { r.PayerName = strings.Repeat("x", 101) }, ErrNameTooLong},
		{"slug uppercase", func(r *domain.ChargeRequest) { r.CollectionSlug = "Spring-Fees" }, ErrInvalidCollection},
		{"slug injection", func(r *domain.ChargeRequest) { r.CollectionSlug = "spring'; drop" }, ErrInvalidCollection},
		{"slug trailing dash", func(r *domain.ChargeRequest) { r.CollectionSlug = "spring-" }, ErrInvalidCollection},
		{"source prefix", func(r *domain.ChargeRequest) { r.SourceID = "tok_visa" }, ErrInvalidSource},
		{"source bare prefix", func(r *domain.ChargeRequest) { r.SourceID = "cnon:" }, ErrInvalidSource},
		{"amount first", func(r *domain.ChargeRequest) { r.Amount = "0.50"; r.PayerEmail = "bad" }, ErrAmountTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := ValidateChargeRequest(req)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestValidateSourceID_CardOnFile(t *testing.T) {
	assert.NoError(t, ValidateSourceID("ccof:customer-card-1"))
}

func TestValidatePaymentCompleted(t *testing.T) {
	event := domain.PaymentCompleted{
		ChargeID:   "charge-1",
		PayerEmail: "a@example.com",
		Amount:     decimal.RequireFromString("25.00"),
	}
	assert.NoError(t, ValidatePaymentCompleted(event))

	event.AdminEmail = "nope"
	assert.ErrorIs(t, ValidatePaymentCompleted(event), ErrInvalidEmail)

	event.AdminEmail = ""
	event.ChargeID = ""
	assert.ErrorIs(t, ValidatePaymentCompleted(event), ErrEmptyChargeID)
}
