package routes

import (
	"net/http"

	adminapi "familybook/internal/api/admin"
	"familybook/internal/api/billing"
	groupsapi "familybook/internal/api/groups"
	postsapi "familybook/internal/api/posts"
	rendererapi "familybook/internal/api/renderer"
	stripewebhooks "familybook/internal/api/stripewebhook"
	"familybook/internal/api/users"
	"familybook/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the router needs; main builds it.
type Handlers struct {
	Admin    *adminapi.Handler
	Billing  *billing.Handler
	Groups   *groupsapi.Handler
	Posts    *postsapi.Handler
	Renderer *rendererapi.Handler
	Webhook  *stripewebhooks.Handler
	Users    *users.Handler

	Auth     gin.HandlerFunc
	Billable middleware.BillableChecker
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	r.POST("/webhook", h.Webhook.StripeWebhook)
	r.POST("/renderer/callback", h.Renderer.Callback)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Authenticated
	auth := r.Group("/")
	auth.Use(h.Auth)
	auth.GET("/me", h.Users.GetCurrentUser)
	auth.GET("/payments", h.Billing.GetPaymentHistory)
	auth.DELETE("/groups/:id", h.Groups.DeleteGroup)
	auth.DELETE("/members/:id", h.Groups.DeleteMember)

	// ✅ Sanitize JSON bodies of authenticated writes
	writes := auth.Group("/")
	writes.Use(middleware.SanitizeAndCleanInputMiddleware())
	writes.POST("/groups", h.Groups.CreateGroup)
	writes.POST("/posts", h.Posts.CreatePost)
	writes.PUT("/posts/:id", h.Posts.UpdatePost)

	// Billable groups
	billable := auth.Group("/")
	billable.Use(middleware.RequireBillableGroup(h.Billable))
	billable.POST("/posts/images", h.Posts.UploadImages)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(h.Auth, middleware.RequireRole("admin"))
	admin.POST("/deadlines/evaluate", h.Admin.EvaluateDeadlines)
	admin.POST("/issues/:id/close", h.Admin.CloseIssue)
	admin.POST("/issues/:id/publish", h.Admin.PublishIssue)
	admin.POST("/books/:id/production", h.Admin.CompleteProduction)
	admin.POST("/books/:id/production/retry", h.Admin.RetryProduction)
	admin.PUT("/books/:id/delivery", h.Admin.AdvanceDelivery)
	admin.GET("/books/pending", h.Admin.ListPendingBooks)
	admin.GET("/groups", h.Admin.ListGroups)
	admin.GET("/payments", h.Admin.ListAllPayments)
}
