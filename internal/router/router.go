// Package router wires every HTTP route to its handler and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/handler"
	"github.com/taskpilot/taskpilot/internal/middleware"
)

// Register mounts all routes on the provided Echo instance.
//
// Three tiers of protection apply:
//   - the page guard runs on everything outside /api and /healthz and only
//     redirects (coarse, stateless check at the edge);
//   - the rate limiter fronts the credential endpoints;
//   - the session resolver gates every protected API route (fine check,
//     inside the handlers' group).
func Register(e *echo.Echo, cfg config.Config, codec *auth.Codec, rdb *redis.Client,
	a *handler.AuthHandler, acct *handler.AccountHandler, tasks *handler.TaskHandler) {

	e.GET("/healthz", handler.Health)

	// Server-rendered pages: guarded at the edge, assets served from web/.
	e.Use(middleware.PageGuard(codec))
	e.Static("/", "web")

	limited := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	api := e.Group("/api/users")
	api.POST("/signup", a.Signup, limited)
	api.POST("/login", a.Login, limited)
	api.POST("/refresh-token", a.RefreshToken)
	api.GET("/logout", a.Logout)
	api.POST("/verifyemail", a.VerifyEmail)
	api.POST("/forgot-password", a.ForgotPassword, limited)
	api.POST("/reset-password", a.ResetPassword, limited)

	// Everything below requires a valid access token.
	protected := api.Group("", middleware.Session(codec))
	protected.POST("/auth-email-verification", a.ResendVerification, limited)
	protected.GET("/details", acct.Details)
	protected.POST("/change-password", acct.ChangePassword)
	protected.PATCH("/update-profile", acct.UpdateProfile)
	protected.DELETE("/delete-account", acct.DeleteAccount)

	protected.GET("/tasks", tasks.List)
	protected.POST("/tasks", tasks.Create)
	protected.PUT("/tasks/:id", tasks.Update)
	protected.DELETE("/tasks/:id", tasks.Delete)
}
