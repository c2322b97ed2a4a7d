package validator

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"collection-payments/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("please enter a valid payment amount")
	ErrAmountTooSmall    = errors.New("minimum payment amount is $1.00")
	ErrAmountTooLarge    = errors.New("maximum payment amount is $10,000.00")
	ErrEmptyEmail        = errors.New("email address is required")
	ErrInvalidEmail      = errors.New("please enter a valid email address")
	ErrNameTooShort      = errors.New("name must be at least 2 characters")
	ErrNameTooLong       = errors.New("name must be at most 100 characters")
	ErrInvalidCollection = errors.New("invalid collection")
	ErrInvalidSource     = errors.New("invalid payment method, please re-enter your card details")
	ErrEmptyChargeID     = errors.New("charge id is empty")
)

var (
	MinAmount = decimal.NewFromInt(1)
	MaxAmount = decimal.NewFromInt(10000)
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	slugRegex  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// SourcePrefixes are the payment-method token prefixes the processor issues.
var SourcePrefixes = []string{"cnon:", "ccof:"}

const maxSlugLen = 100

// ParseAmount parses a decimal string, checks the unrounded value lies in
// [1, 10000], then rounds it to whole cents.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if amount.LessThan(MinAmount) {
		return decimal.Zero, ErrAmountTooSmall
	}
	if amount.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrAmountTooLarge
	}
	return amount.Round(2), nil
}

// ToCents converts a validated amount to minor units.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}
	if !emailRegex.MatchString(strings.TrimSpace(email)) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < 2 {
		return ErrNameTooShort
	}
	if n > 100 {
		return ErrNameTooLong
	}
	return nil
}

func ValidateCollectionSlug(slug string) error {
	if len(slug) == 0 || len(slug) > maxSlugLen || !slugRegex.MatchString(slug) {
		return ErrInvalidCollection
	}
	return nil
}

func ValidateSourceID(sourceID string) error {
	for _, p := range SourcePrefixes {
		if strings.HasPrefix(sourceID, p) && len(sourceID) > len(p) {
			return nil
		}
	}
	return ErrInvalidSource
}

// ValidateChargeRequest returns the parsed amount, or the first failing rule.
func ValidateChargeRequest(req domain.ChargeRequest) (decimal.Decimal, error) {
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := ValidateEmail(req.PayerEmail); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateName(req.PayerName); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateCollectionSlug(req.CollectionSlug); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateSourceID(req.SourceID); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func ValidatePaymentCompleted(event domain.PaymentCompleted) error {
	if strings.TrimSpace(event.ChargeID) == "" {
		return ErrEmptyChargeID
	}
	if err := ValidateEmail(event.PayerEmail); err != nil {
		return err
	}
	if event.AdminEmail != "" {
		if err := ValidateEmail(event.AdminEmail); err != nil {
			return err
		}
	}
	if !event.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
