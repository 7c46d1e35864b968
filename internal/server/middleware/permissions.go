package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// Permissions carried by tokens for this API: graph.query (read the graph,
// search, list insights), graph.ingest (submit extractions), insight.manage
// (dismiss and confirm insights). Admins hold all of them.

func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return IsAdmin(user) || slices.Contains(user.Permissions, permission)
}

func HasAnyPermission(user *AppUser, permissions ...string) bool {
	for _, permission := range permissions {
		if HasPermission(user, permission) {
			return true
		}
	}
	return false
}

func IsAdmin(user *AppUser) bool {
	return user != nil && user.Role == "admin"
}

func requireUser(c echo.Context) (*AppUser, error) {
	user := c.(*AppContext).User
	if user == nil {
		return nil, c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	return user, nil
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := requireUser(c)
			if user == nil {
				return err
			}
			if !HasPermission(user, permission) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing permission " + permission})
			}
			return next(c)
		}
	}
}

func RequireAnyPermission(permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := requireUser(c)
			if user == nil {
				return err
			}
			if !HasAnyPermission(user, permissions...) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden: missing required permission"})
			}
			return next(c)
		}
	}
}
