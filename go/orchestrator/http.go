package orchestrator

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/metrics"
)

type createPaymentRequest struct {
	CustomerID     string `json:"customer_id" binding:"required,min=1"`
	AmountCents    int64  `json:"amount_cents" binding:"required,gt=0"`
	Currency       string `json:"currency" binding:"required,len=3"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,min=5"`
}

type paymentResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// NewRouter builds the orchestrator HTTP surface.
func NewRouter(svc *Service) *gin.Engine {
	var r = gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware(svc.Service))

	r.POST("/internal/payments", func(c *gin.Context) {
		var req createPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		var traceID = c.GetHeader("x-trace-id")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		metrics.PaymentRequestsTotal.WithLabelValues(svc.Service).Inc()
		var timer = prometheus.NewTimer(metrics.PaymentLatencySeconds.WithLabelValues(svc.Service))
		defer timer.ObserveDuration()

		payment, err := svc.CreatePayment(c.Request.Context(), CreateRequest{
			CustomerID:     req.CustomerID,
			AmountCents:    req.AmountCents,
			Currency:       req.Currency,
			IdempotencyKey: req.IdempotencyKey,
		}, traceID)
		if err != nil {
			log.WithFields(log.Fields{"trace_id": traceID, "err": err}).Error("payment creation failed")
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, paymentResponse{PaymentID: payment.PaymentID, Status: string(payment.Status)})
	})

	r.GET("/payments/:payment_id", func(c *gin.Context) {
		payment, err := svc.Store.GetPayment(c.Request.Context(), c.Param("payment_id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "payment not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, paymentResponse{PaymentID: payment.PaymentID, Status: string(payment.Status)})
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}
