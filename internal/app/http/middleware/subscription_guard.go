package middleware

import (
	"context"
	"net/http"

	"familybook/internal/apperr"

	"github.com/gin-gonic/gin"
)

type BillableChecker interface {
	Billable(ctx context.Context, groupID string) (bool, error)
}

// RequireBillableGroup refuses the request unless the group named by the
// group_id form field or query parameter has a billable subscription.
func RequireBillableGroup(checker BillableChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		groupID := c.PostForm("group_id")
		if groupID == "" {
			groupID = c.Query("group_id")
		}
		if groupID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "group_id is required"})
			return
		}

		ok, err := checker.Billable(c.Request.Context(), groupID)
		if err != nil {
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": "Could not check subscription", "code": apperr.CodeOf(err)})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error": "The group has no active subscription",
			})
			return
		}

		c.Next()
	}
}
