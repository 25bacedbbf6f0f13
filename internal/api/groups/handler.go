package groups

import (
	"net/http"
	"strconv"

	"familybook/internal/api/respond"
	"familybook/internal/service/lifecycle"
	"familybook/internal/service/teardown"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	lifecycle *lifecycle.Service
	teardown  *teardown.Orchestrator
}

func NewHandler(lc *lifecycle.Service, td *teardown.Orchestrator) *Handler {
	return &Handler{lifecycle: lc, teardown: td}
}

func (h *Handler) CreateGroup(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	var in lifecycle.CreateGroupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, "Invalid request body")
		return
	}

	g, issue, err := h.lifecycle.CreateGroup(c.Request.Context(), caller, in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"group": g, "open_issue": issue})
}

// DeleteGroup answers 409 with the report when outstanding books block the
// deletion, so the client can offer a forced retry.
func (h *Handler) DeleteGroup(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	force := false
	if v := c.Query("force"); v != "" {
		f, err := strconv.ParseBool(v)
		if err != nil {
			respond.BadRequest(c, "force must be a boolean")
			return
		}
		force = f
	}

	report, err := h.teardown.DeleteGroup(c.Request.Context(), c.Param("id"), caller, force)
	if report != nil && report.Blocked {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "books_in_progress", "report": report})
		return
	}
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) DeleteMember(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	if err := h.teardown.DeleteMember(c.Request.Context(), c.Param("id"), caller); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}
