package renderer

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"familybook/internal/api/respond"
	"familybook/internal/apperr"
	"familybook/internal/domain/issues"
	"familybook/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ProductionAdvancer interface {
	AdvanceProduction(ctx context.Context, bookID, assetRef string) (*issues.Book, error)
}

type Handler struct {
	lifecycle ProductionAdvancer
	token     string
}

func NewHandler(lc ProductionAdvancer, token string) *Handler {
	return &Handler{lifecycle: lc, token: token}
}

type callbackRequest struct {
	BookID   string `json:"book_id" binding:"required"`
	AssetRef string `json:"asset_ref"`
	Status   string `json:"status"`
	Error    string `json:"error"`
}

// Callback is called by the renderer when a book it accepted is finished
// or has failed. A failed render leaves the book pending for a retry.
func (h *Handler) Callback(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		respond.Error(c, apperr.Permission(apperr.ScopeSystem, "Invalid renderer token"))
		return
	}
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "Invalid request body")
		return
	}
	log := logging.With(logrus.Fields{"book_id": req.BookID})

	if req.Status == "failed" {
		log.WithField("error", req.Error).Warn("renderer reported a failed production")
		c.JSON(http.StatusOK, gin.H{"status": "noted"})
		return
	}

	book, err := h.lifecycle.AdvanceProduction(c.Request.Context(), req.BookID, req.AssetRef)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) authorized(header string) bool {
	if h.token == "" {
		return false
	}
	got := strings.TrimPrefix(header, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}
