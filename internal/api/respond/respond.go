// Package respond holds the small helpers every handler shares: reading the
// caller the auth middleware put on the context and writing service errors.
package respond

import (
	"net/http"

	"familybook/internal/apperr"
	"familybook/internal/domain/users"
	"familybook/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Caller returns the authenticated caller, or false when the middleware did
// not run.
func Caller(c *gin.Context) (users.Caller, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		return users.Caller{}, false
	}
	role := c.GetString("role")
	if role == "" {
		role = users.RoleUser
	}
	return users.Caller{UserID: userID, Role: role}, true
}

// MustCaller aborts with 401 when no caller is present.
func MustCaller(c *gin.Context) (users.Caller, bool) {
	caller, ok := Caller(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return users.Caller{}, false
	}
	return caller, true
}

// Error maps a service error to its HTTP status. Internal errors are logged
// and hidden from the client.
func Error(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logging.With(logrus.Fields{"path": c.FullPath()}).WithError(err).Error("request failed")
		c.JSON(status, gin.H{"error": "Internal error", "code": apperr.CodeOf(err)})
		return
	}

	body := gin.H{"error": err.Error(), "code": apperr.CodeOf(err)}
	if scope := apperr.ScopeOf(err); scope != "" {
		body["scope"] = scope
	}
	c.JSON(status, body)
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "bad_request"})
}
