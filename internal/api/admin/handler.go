package admin

import (
	"net/http"
	"time"

	"familybook/internal/api/respond"
	"familybook/internal/domain/billing"
	"familybook/internal/domain/issues"
	"familybook/internal/service/lifecycle"
	"familybook/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handler struct {
	db        *gorm.DB
	lifecycle *lifecycle.Service
	loc       *time.Location
	now       func() time.Time
}

func NewHandler(db *gorm.DB, lc *lifecycle.Service, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{db: db, lifecycle: lc, loc: loc, now: time.Now}
}

type AdminGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LeaderEmail string `json:"leader_email,omitempty"`
	CadenceDays int    `json:"cadence_days"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type AdminPayment struct {
	ID             string                `json:"id"`
	GroupID        string                `json:"group_id,omitempty"`
	SubscriptionID string                `json:"subscription_id"`
	Amount         int64                 `json:"amount"`
	Currency       string                `json:"currency"`
	Status         billing.PaymentStatus `json:"status"`
	TransactionID  *string               `json:"transaction_id,omitempty"`
	RefundAmount   int64                 `json:"refund_amount"`
	CreatedAt      string                `json:"created_at"`
}

type AdminBook struct {
	ID               string                  `json:"id"`
	IssueID          string                  `json:"issue_id"`
	GroupID          string                  `json:"group_id"`
	IssueNumber      int                     `json:"issue_number"`
	ProductionStatus issues.ProductionStatus `json:"production_status"`
	DeliveryStatus   issues.DeliveryStatus   `json:"delivery_status"`
	RequestedAt      *time.Time              `json:"production_requested_at,omitempty"`
}

// EvaluateDeadlines runs the daily deadline pass by hand. ?date=YYYY-MM-DD
// evaluates as of that day instead of today.
func (h *Handler) EvaluateDeadlines(c *gin.Context) {
	today := issues.DateOf(h.now().In(h.loc))
	if v := c.Query("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			respond.BadRequest(c, "date must be YYYY-MM-DD")
			return
		}
		today = d
	}

	sum, err := h.lifecycle.EvaluateDeadlines(c.Request.Context(), today)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": today.Format("2006-01-02"), "summary": sum})
}

func (h *Handler) CloseIssue(c *gin.Context) {
	res, err := h.lifecycle.CloseIssue(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) PublishIssue(c *gin.Context) {
	issue, err := h.lifecycle.PublishIssue(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

func (h *Handler) CompleteProduction(c *gin.Context) {
	var body struct {
		AssetRef string `json:"asset_ref"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.BadRequest(c, "Invalid request body")
		return
	}
	book, err := h.lifecycle.AdvanceProduction(c.Request.Context(), c.Param("id"), body.AssetRef)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) RetryProduction(c *gin.Context) {
	book, err := h.lifecycle.RequestProduction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) AdvanceDelivery(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.BadRequest(c, "Invalid request body")
		return
	}
	next, err := issues.ParseDeliveryStatus(body.Status)
	if err != nil {
		respond.Error(c, err)
		return
	}
	book, err := h.lifecycle.AdvanceDelivery(c.Request.Context(), c.Param("id"), next)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) ListPendingBooks(c *gin.Context) {
	books, err := store.OutstandingBooks(h.db.WithContext(c.Request.Context()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load books"})
		return
	}

	result := []AdminBook{}
	for _, b := range books {
		row := AdminBook{
			ID:               b.ID,
			IssueID:          b.IssueID,
			ProductionStatus: b.ProductionStatus,
			DeliveryStatus:   b.DeliveryStatus,
			RequestedAt:      b.ProductionRequestedAt,
		}
		if b.Issue != nil {
			row.GroupID = b.Issue.GroupID
			row.IssueNumber = b.Issue.IssueNumber
		}
		result = append(result, row)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListGroups(c *gin.Context) {
	list, err := store.ListGroups(h.db.WithContext(c.Request.Context()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load groups"})
		return
	}

	result := []AdminGroup{}
	for _, g := range list {
		row := AdminGroup{
			ID:          g.ID,
			Name:        g.Name,
			CadenceDays: g.CadenceDays,
			Status:      string(g.Status),
			CreatedAt:   g.CreatedAt.Format("2006-01-02 15:04"),
		}
		if g.Leader != nil {
			row.LeaderEmail = g.Leader.Email
		}
		result = append(result, row)
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListAllPayments(c *gin.Context) {
	payments, err := store.AllPayments(h.db.WithContext(c.Request.Context()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	result := []AdminPayment{}
	for _, p := range payments {
		row := AdminPayment{
			ID:             p.ID,
			SubscriptionID: p.SubscriptionID,
			Amount:         p.Amount,
			Currency:       p.Currency,
			Status:         p.Status,
			TransactionID:  p.TransactionID,
			RefundAmount:   p.RefundAmount,
			CreatedAt:      p.CreatedAt.Format("2006-01-02 15:04"),
		}
		if p.Subscription != nil {
			row.GroupID = p.Subscription.GroupID
		}
		result = append(result, row)
	}
	c.JSON(http.StatusOK, result)
}
