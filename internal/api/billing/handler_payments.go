package billing

import (
	"net/http"

	"familybook/internal/api/respond"
	"familybook/internal/apperr"
	"familybook/internal/domain/billing"
	"familybook/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

type PaymentDTO struct {
	ID            string                `json:"id"`
	GroupID       string                `json:"group_id"`
	Amount        int64                 `json:"amount"`
	Currency      string                `json:"currency"`
	Status        billing.PaymentStatus `json:"status"`
	TransactionID *string               `json:"transaction_id,omitempty"`
	FailureReason *string               `json:"failure_reason,omitempty"`
	RefundAmount  int64                 `json:"refund_amount"`
	CreatedAt     string                `json:"created_at"`
}

func toPaymentDTO(groupID string, p billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            p.ID,
		GroupID:       groupID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        p.Status,
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
		RefundAmount:  p.RefundAmount,
		CreatedAt:     p.CreatedAt.Format("2006-01-02 15:04"),
	}
}

// GetPaymentHistory lists the payments of one group (?group_id=) or of every
// group the caller belongs to.
func (h *Handler) GetPaymentHistory(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	var groupIDs []string
	if gid := c.Query("group_id"); gid != "" {
		m, err := store.MemberOf(db, gid, caller.UserID)
		if err != nil {
			respond.Error(c, err)
			return
		}
		if m == nil && !caller.IsAdmin() {
			respond.Error(c, apperr.Permission(apperr.ScopeMember, "only group members can see its payments"))
			return
		}
		groupIDs = []string{gid}
	} else {
		memberships, err := store.Memberships(db, caller.UserID)
		if err != nil {
			respond.Error(c, err)
			return
		}
		for _, m := range memberships {
			groupIDs = append(groupIDs, m.GroupID)
		}
	}

	result := []PaymentDTO{}
	for _, gid := range groupIDs {
		payments, err := store.GroupPayments(db, gid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
			return
		}
		for _, p := range payments {
			result = append(result, toPaymentDTO(gid, p))
		}
	}

	c.JSON(http.StatusOK, result)
}
