package users

import (
	"context"
	"net/http"
	"time"

	"familybook/internal/api/respond"
	"familybook/internal/apperr"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/issues"
	"familybook/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type BillableChecker interface {
	Billable(ctx context.Context, groupID string) (bool, error)
}

type Handler struct {
	db      *gorm.DB
	billing BillableChecker
	now     func() time.Time
	loc     *time.Location
}

func NewHandler(db *gorm.DB, billing BillableChecker, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{db: db, billing: billing, now: time.Now, loc: loc}
}

// GetCurrentUser returns the caller with every group they belong to, the
// group's open issue and whether the group is billable.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	caller, ok := respond.MustCaller(c)
	if !ok {
		return
	}
	db := h.db.WithContext(c.Request.Context())

	user, err := store.FindUser(db, caller.UserID)
	if err != nil {
		respond.Error(c, err)
		return
	}
	memberships, err := store.Memberships(db, user.ID)
	if err != nil {
		respond.Error(c, err)
		return
	}

	today := issues.DateOf(h.now().In(h.loc))
	resp := MeResponse{
		User: UserDTO{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
			Role:  user.Role,
		},
		Groups: make([]GroupDTO, 0, len(memberships)),
	}
	for _, m := range memberships {
		g, err := h.buildGroupDTO(c.Request.Context(), db, m, today)
		if err != nil {
			respond.Error(c, err)
			return
		}
		resp.Groups = append(resp.Groups, g)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) buildGroupDTO(ctx context.Context, db *gorm.DB, m groups.Member, today time.Time) (GroupDTO, error) {
	dto := GroupDTO{
		ID:           m.GroupID,
		MemberID:     m.ID,
		Role:         m.Role,
		Relationship: m.Relationship,
	}
	if m.Group != nil {
		dto.Name = m.Group.Name
		dto.CadenceDays = m.Group.CadenceDays
	}

	open, err := store.OpenIssue(db, m.GroupID)
	switch {
	case apperr.IsKind(err, apperr.KindNotFound):
	case err != nil:
		return dto, err
	default:
		var posts int64
		if err := db.Model(&issues.Post{}).Where("issue_id = ?", open.ID).Count(&posts).Error; err != nil {
			return dto, err
		}
		dto.OpenIssue = &IssueDTO{
			ID:           open.ID,
			IssueNumber:  open.IssueNumber,
			DeadlineDate: open.DeadlineDate,
			DaysLeft:     int(open.DeadlineDate.Sub(today).Hours() / 24),
			PostCount:    posts,
		}
	}

	billable, err := h.billing.Billable(ctx, m.GroupID)
	if err != nil {
		return dto, err
	}
	dto.Billable = billable
	return dto, nil
}
