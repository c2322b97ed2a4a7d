package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"collection-payments/internal/domain"
	"collection-payments/internal/service"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type PaymentSubmitter interface {
	SubmitPayment(ctx context.Context, req domain.ChargeRequest) (*service.PaymentResult, error)
}

type PaymentHandler struct {
	payments PaymentSubmitter
}

func NewPaymentHandler(payments PaymentSubmitter) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type submitPaymentBody struct {
	SourceID   string `json:"source_id"`
	Amount     string `json:"amount"`
	PayerEmail string `json:"payer_email"`
	PayerName  string `json:"payer_name"`
}

type paymentResponse struct {
	Success     bool                 `json:"success"`
	Payment     *domain.ChargeRecord `json:"payment,omitempty"`
	PaymentID   string               `json:"paymentId"`
	ReceiptURL  string               `json:"receiptUrl,omitempty"`
	IsDuplicate bool                 `json:"isDuplicate"`
}

type errorResponse struct {
	Error             string `json:"error"`
	RateLimitExceeded bool   `json:"rateLimitExceeded,omitempty"`
}

func (h *PaymentHandler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.POST("/api/collections/:slug/payments", h.SubmitPayment)
}

func (h *PaymentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *PaymentHandler) SubmitPayment(c *gin.Context) {
	var body submitPaymentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	result, err := h.payments.SubmitPayment(c.Request.Context(), domain.ChargeRequest{
		SourceID:       body.SourceID,
		CollectionSlug: c.Param("slug"),
		Amount:         body.Amount,
		PayerEmail:     body.PayerEmail,
		PayerName:      body.PayerName,
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, paymentResponse{
		Success:     true,
		Payment:     result.Payment,
		PaymentID:   result.PaymentID,
		ReceiptURL:  result.ReceiptURL,
		IsDuplicate: result.IsDuplicate,
	})
}

func (h *PaymentHandler) writeError(c *gin.Context, err error) {
	perr, ok := service.AsPaymentError(err)
	if !ok {
		log.WithError(err).Error("Unexpected payment error")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Payment failed. Please try again."})
		return
	}

	resp := errorResponse{Error: perr.Message}
	if perr.Kind == service.KindRateLimited {
		resp.RateLimitExceeded = true
		c.Header("Retry-After", strconv.Itoa(int(perr.RetryAfter/time.Second)))
	}
	c.JSON(statusFor(perr.Kind), resp)
}

func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	case service.KindCollectionState:
		return http.StatusUnprocessableEntity
	case service.KindDuplicateInFlight:
		return http.StatusConflict
	case service.KindProcessor:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
