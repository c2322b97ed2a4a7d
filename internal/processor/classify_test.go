package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		contains  string
	}{
		{"card declined", &Error{StatusCode: 402, Code: "CARD_DECLINED"}, true, "different payment method"},
		{"insufficient funds", &Error{StatusCode: 402, Code: "INSUFFICIENT_FUNDS"}, false, "Insufficient funds"},
		{"cvv", &Error{StatusCode: 400, Code: "CVV_FAILURE"}, false, "CVV"},
		{"token used", &Error{StatusCode: 400, Code: "CARD_TOKEN_USED"}, false, "refresh"},
		{"code beats status", &Error{StatusCode: 500, Code: "CARD_EXPIRED"}, false, "expired"},
		{"unknown code falls back to status", &Error{StatusCode: 401, Code: "SOMETHING_NEW"}, false, "contact support"},
		{"bad request", &Error{StatusCode: 400}, true, "check your details"},
		{"unprocessable", &Error{StatusCode: 422}, true, "check your details"},
		{"forbidden", &Error{StatusCode: 403}, false, "contact support"},
		{"not found", &Error{StatusCode: 404}, false, "contact support"},
		{"conflict", &Error{StatusCode: 409}, false, "already being processed"},
		{"too many requests", &Error{StatusCode: 429}, false, "wait a minute"},
		{"bad gateway", &Error{StatusCode: 502}, true, "temporarily unavailable"},
		{"no status no code", &Error{}, true, GenericFailureMessage},
		{"network error", errors.New("dial tcp: connection refused"), true, GenericFailureMessage},
		{"wrapped", fmt.Errorf("attempt 2: %w", &Error{StatusCode: 402, Code: "INSUFFICIENT_FUNDS"}), false, "Insufficient funds"},
		{"context deadline", context.DeadlineExceeded, true, GenericFailureMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.retryable, c.Retryable)
			assert.Contains(t, c.Message, tt.contains)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestError_DoesNotLeakIntoMessage(t *testing.T) {
	err := &Error{StatusCode: 402, Code: "CARD_DECLINED", Detail: "Authorization error: 'CARD_DECLINED' from issuer 4400"}
	assert.NotContains(t, Classify(err).Message, "issuer")
	assert.Contains(t, err.Error(), "CARD_DECLINED")
}
