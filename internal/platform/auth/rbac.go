package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles recognised by the census API. Admin passes every role check.
const (
	RoleAdmin       = "admin"
	RolePhysician   = "physician"
	RoleNurse       = "nurse"
	RoleCaseManager = "case-manager"
	RoleAnalyst     = "analyst"
)

// CensusReaders may view rosters, which carry patient contact details.
var CensusReaders = []string{RolePhysician, RoleNurse, RoleCaseManager}

// TrendReaders may view aggregate counts only.
var TrendReaders = []string{RolePhysician, RoleNurse, RoleCaseManager, RoleAnalyst}

// RequireRole returns middleware that checks if the user has one of the
// required roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether have contains admin or any of want.
func HasRole(have []string, want ...string) bool {
	for _, h := range have {
		if h == RoleAdmin {
			return true
		}
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
