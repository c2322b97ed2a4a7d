package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultBucket     = 60 * time.Second
	DefaultStaleAfter = 30 * time.Second

	keyPrefix      = "pay_"
	keyHashLen     = 40
	tokenPrefixLen = 10
)

// NormalizeEmail lowercases and trims an address for keying and rate limiting.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TokenPrefix is the leading part of a payment-method token used in the key.
func TokenPrefix(token string) string {
	if len(token) > tokenPrefixLen {
		return token[:tokenPrefixLen]
	}
	return token
}

// TimeBucket rounds at down to a multiple of bucket since the Unix epoch.
func TimeBucket(at time.Time, bucket time.Duration) int64 {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return at.UnixNano() / int64(bucket)
}

// DeriveKey is a pure function of its inputs. Submissions that agree on every
// field within one bucket produce the same key. The result fits the processor's
// 45 character limit.
func DeriveKey(collectionSlug, email string, amount decimal.Decimal, tokenPrefix string, at time.Time, bucket time.Duration) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(collectionSlug)),
		NormalizeEmail(email),
		amount.StringFixed(2),
		strconv.FormatInt(TimeBucket(at, bucket), 10),
		tokenPrefix,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return keyPrefix + hex.EncodeToString(sum[:])[:keyHashLen]
}
