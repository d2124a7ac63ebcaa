package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apperr"
)

// RequireRole returns middleware that checks if the requester has one of the
// specified roles. Admins always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r, ok := RequesterFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
			}
			if r.IsAdmin() {
				return next(c)
			}
			for _, required := range roles {
				if r.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// CanMutate is the single ownership rule for follow-ups and prescriptions:
// the assigned doctor or an admin may change a record, nobody else.
func CanMutate(ownerID uuid.UUID, r Requester) bool {
	if r.IsAdmin() {
		return true
	}
	return ownerID != uuid.Nil && r.UserID == ownerID
}

// Authorize wraps CanMutate and returns a Forbidden error when denied.
func Authorize(resource string, ownerID uuid.UUID, r Requester) error {
	if CanMutate(ownerID, r) {
		return nil
	}
	return apperr.Forbidden("not allowed to modify this %s", resource)
}

// RequireAnyRole returns Forbidden unless r holds one of roles.
func RequireAnyRole(r Requester, roles ...string) error {
	for _, role := range roles {
		if r.Role == role {
			return nil
		}
	}
	return apperr.Forbidden("role %q may not perform this action", r.Role)
}
