package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	SandboxBaseURL    = "https://connect.squareupsandbox.com"
	ProductionBaseURL = "https://connect.squareup.com"

	squareVersion = "2024-10-17"
)

// ChargeParams is one create-payment call.
type ChargeParams struct {
	SourceID       string
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	BuyerEmail     string
	Note           string
}

// Charge is a successful processor response.
type Charge struct {
	ID         string
	Status     string
	ReceiptURL string
}

type SquareClient struct {
	baseURL     string
	accessToken string
	locationID  string
	environment string
	httpClient  *http.Client
}

// NewSquareClient builds a client for environment ("sandbox" or "production").
// A non-empty baseURL overrides the environment's default.
func NewSquareClient(accessToken, locationID, environment, baseURL string, timeout time.Duration) *SquareClient {
	if baseURL == "" {
		baseURL = SandboxBaseURL
		if environment == "production" {
			baseURL = ProductionBaseURL
		}
	}
	return &SquareClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		locationID:  locationID,
		environment: environment,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *SquareClient) Environment() string {
	return c.environment
}

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createPaymentRequest struct {
	SourceID          string `json:"source_id"`
	IdempotencyKey    string `json:"idempotency_key"`
	AmountMoney       money  `json:"amount_money"`
	LocationID        string `json:"location_id,omitempty"`
	BuyerEmailAddress string `json:"buyer_email_address,omitempty"`
	Note              string `json:"note,omitempty"`
	Autocomplete      bool   `json:"autocomplete"`
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

type createPaymentResponse struct {
	Payment *struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		ReceiptURL string `json:"receipt_url"`
	} `json:"payment"`
	Errors []squareError `json:"errors"`
}

// CreateCharge issues a single create-payment call. The idempotency key is passed
// through so the processor also deduplicates retried attempts.
func (c *SquareClient) CreateCharge(ctx context.Context, p ChargeParams) (*Charge, error) {
	body, err := json.Marshal(createPaymentRequest{
		SourceID:          p.SourceID,
		IdempotencyKey:    p.IdempotencyKey,
		AmountMoney:       money{Amount: p.AmountCents, Currency: p.Currency},
		LocationID:        c.locationID,
		BuyerEmailAddress: p.BuyerEmail,
		Note:              p.Note,
		Autocomplete:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Square-Version", squareVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read payment response: %w", err)
	}

	var out createPaymentResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("failed to decode payment response: %w", err)
		}
	}

	if resp.StatusCode >= 300 || len(out.Errors) > 0 {
		perr := &Error{StatusCode: resp.StatusCode}
		if len(out.Errors) > 0 {
			perr.Code = out.Errors[0].Code
			perr.Category = out.Errors[0].Category
			perr.Detail = out.Errors[0].Detail
		}
		log.WithFields(log.Fields{
			"status_code":     perr.StatusCode,
			"error_code":      perr.Code,
			"error_category":  perr.Category,
			"idempotency_key": p.IdempotencyKey,
		}).Warn("Processor rejected payment")
		return nil, perr
	}

	if out.Payment == nil {
		return nil, &Error{StatusCode: resp.StatusCode, Detail: "response did not include a payment"}
	}

	switch out.Payment.Status {
	case "FAILED", "CANCELED":
		return nil, &Error{StatusCode: resp.StatusCode, Code: "PAYMENT_FAILED", Detail: "payment status " + out.Payment.Status}
	}

	return &Charge{
		ID:         out.Payment.ID,
		Status:     out.Payment.Status,
		ReceiptURL: out.Payment.ReceiptURL,
	}, nil
}
