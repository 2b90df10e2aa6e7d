package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sagapay/core/go/metrics"
)

// NewRouter builds the ledger reconciliation HTTP surface.
func NewRouter(svc *Service) *gin.Engine {
	var r = gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware(svc.Service))

	r.GET("/reconciliation/:transaction_id", func(c *gin.Context) {
		summary, entries, err := svc.Store.TransactionSummary(c.Request.Context(), c.Param("transaction_id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "transaction not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		var out = make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, gin.H{
				"entry_id":     e.EntryID,
				"account_name": e.AccountName,
				"direction":    e.Direction,
				"amount_cents": e.AmountCents,
				"created_at":   e.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"transaction_id": summary.TransactionID,
			"debits_cents":   summary.DebitsCents,
			"credits_cents":  summary.CreditsCents,
			"balanced":       summary.Balanced,
			"entries":        out,
		})
	})

	r.GET("/reconciliation", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "1000"))
		if err != nil || limit <= 0 {
			limit = 1000
		}
		summaries, err := svc.Store.ListSummaries(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		var imbalanced = make([]TransactionSummary, 0)
		for _, s := range summaries {
			if !s.Balanced {
				imbalanced = append(imbalanced, s)
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": summaries,
			"imbalanced":   imbalanced,
			"total":        len(summaries),
		})
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}
