package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sagapay/core/go/metrics"
)

// Forwarder submits a validated payment request to the orchestrator and
// returns the downstream status code and body.
type Forwarder interface {
	Forward(ctx context.Context, traceID string, body []byte) (int, []byte, error)
}

// HTTPForwarder is the production Forwarder over net/http.
type HTTPForwarder struct {
	OrchestratorURL string
	Client          *http.Client
}

// NewHTTPForwarder builds a forwarder with the standard 5 s client timeout.
func NewHTTPForwarder(orchestratorURL string) *HTTPForwarder {
	return &HTTPForwarder{
		OrchestratorURL: orchestratorURL,
		Client:          &http.Client{Timeout: 5 * time.Second},
	}
}

func (f *HTTPForwarder) Forward(ctx context.Context, traceID string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.OrchestratorURL+"/internal/payments", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-trace-id", traceID)

	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("forwarding to orchestrator: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading orchestrator response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

type paymentRequest struct {
	CustomerID     string `json:"customer_id" binding:"required,min=1"`
	AmountCents    int64  `json:"amount_cents" binding:"required,gt=0"`
	Currency       string `json:"currency" binding:"required,len=3"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,min=5"`
}

// Gateway holds the edge dependencies.
type Gateway struct {
	APIKey    string
	Bucket    *TokenBucket
	Cache     *IdempotencyCache
	Forwarder Forwarder
	Service   string
}

// NewRouter builds the public HTTP surface.
func NewRouter(g *Gateway) *gin.Engine {
	var r = gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware(g.Service))

	r.POST("/payments", g.createPayment)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

func (g *Gateway) createPayment(c *gin.Context) {
	if c.GetHeader("x-api-key") != g.APIKey {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid API key"})
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	var traceID = c.GetHeader("x-correlation-id")
	if traceID == "" {
		traceID = uuid.NewString()
	}
	var ctx = c.Request.Context()
	metrics.PaymentRequestsTotal.WithLabelValues(g.Service).Inc()

	if !g.Bucket.Allow(ctx, req.CustomerID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": "rate limit exceeded"})
		return
	}

	if cached := g.Cache.Get(ctx, req.CustomerID, req.IdempotencyKey); cached != nil {
		log.WithFields(log.Fields{
			"customer_id": req.CustomerID,
			"trace_id":    traceID,
		}).Info("idempotency cache hit")
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	status, respBody, err := g.Forwarder.Forward(ctx, traceID, body)
	if err != nil {
		log.WithFields(log.Fields{"trace_id": traceID, "error": err}).
			Error("orchestrator unreachable")
		c.JSON(http.StatusBadGateway, gin.H{"detail": "orchestrator unavailable"})
		return
	}
	if status == http.StatusOK {
		g.Cache.Put(ctx, req.CustomerID, req.IdempotencyKey, respBody)
	}
	c.Data(status, "application/json", respBody)
}
