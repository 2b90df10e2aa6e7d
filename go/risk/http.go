package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sagapay/core/go/metrics"
)

// HTTPStatusFetcher queries the orchestrator's payment read endpoint.
type HTTPStatusFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPStatusFetcher builds a fetcher with the standard 5 s client timeout.
func NewHTTPStatusFetcher(baseURL string) *HTTPStatusFetcher {
	return &HTTPStatusFetcher{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// PaymentStatus implements PaymentStatusFetcher.
func (f *HTTPStatusFetcher) PaymentStatus(ctx context.Context, paymentID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.BaseURL+"/payments/"+paymentID, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: unknown to orchestrator", ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("orchestrator status query failed: %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status == "" {
		return "", fmt.Errorf("orchestrator status response malformed")
	}
	return body.Status, nil
}

type manualReviewRequest struct {
	ReviewedBy string `json:"reviewed_by" binding:"required,min=1"`
}

// NewRouter builds the risk ops HTTP surface. All /ops routes require the
// configured API key.
func NewRouter(svc *Service, apiKey string) *gin.Engine {
	var r = gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware(svc.Service))

	var requireKey = func(c *gin.Context) {
		if c.GetHeader("x-api-key") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid API key"})
		}
	}

	var ops = r.Group("/ops", requireKey)
	ops.GET("/reviews", func(c *gin.Context) {
		var status = c.DefaultQuery("status", "PENDING")
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit <= 0 {
			limit = 100
		}
		reviews, err := svc.Store.ListReviews(c.Request.Context(), status, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		var out = make([]gin.H, 0, len(reviews))
		for _, rv := range reviews {
			out = append(out, gin.H{
				"payment_id":   rv.PaymentID,
				"customer_id":  rv.CustomerID,
				"amount_cents": rv.AmountCents,
				"reason":       rv.Reason,
				"status":       rv.Status,
				"reviewed_by":  rv.ReviewedBy,
				"reviewed_at":  rv.ReviewedAt,
				"created_at":   rv.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, out)
	})

	var decide = func(decision Decision) gin.HandlerFunc {
		return func(c *gin.Context) {
			var req manualReviewRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
				return
			}
			var traceID = c.GetHeader("x-trace-id")
			if traceID == "" {
				traceID = uuid.NewString()
			}
			review, err := svc.ManualDecision(c.Request.Context(), c.Param("payment_id"), decision, req.ReviewedBy, traceID)
			if err != nil {
				c.JSON(decisionStatus(err), gin.H{"detail": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"payment_id":  review.PaymentID,
				"status":      review.Status,
				"reviewed_by": review.ReviewedBy,
			})
		}
	}
	ops.POST("/reviews/:payment_id/approve", decide(DecisionApprove))
	ops.POST("/reviews/:payment_id/deny", decide(DecisionDeny))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

func decisionStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReviewFinalized), errors.Is(err, ErrPaymentNotReviewable):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
