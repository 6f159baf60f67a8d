package hipaa

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/census/internal/platform/auth"
	"github.com/ehr/census/pkg/pagination"
)

// AccessSearcher is the read side of AccessLog.
type AccessSearcher interface {
	Search(ctx context.Context, q AccessQuery) ([]AccessRecord, int, error)
}

type AccessHandler struct {
	log AccessSearcher
}

func NewAccessHandler(log AccessSearcher) *AccessHandler {
	return &AccessHandler{log: log}
}

// RegisterRoutes adds GET /admin/census-access for admins.
func (h *AccessHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/admin/census-access", h.HandleSearch, auth.RequireRole(auth.RoleAdmin))
}

// HandleSearch lists access records, newest first. Filters: user_id,
// operation, since and until (RFC 3339 or YYYY-MM-DD).
func (h *AccessHandler) HandleSearch(c echo.Context) error {
	p := pagination.FromContext(c)
	q := AccessQuery{
		UserID:    c.QueryParam("user_id"),
		Operation: c.QueryParam("operation"),
		Limit:     p.Limit,
		Offset:    p.Offset,
	}
	var err error
	if q.Since, err = timeParam(c, "since"); err != nil {
		return err
	}
	if q.Until, err = timeParam(c, "until"); err != nil {
		return err
	}

	records, total, err := h.log.Search(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "access log unavailable").SetInternal(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, p.Limit, p.Offset))
}

func timeParam(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, echo.NewHTTPError(http.StatusBadRequest,
		fmt.Sprintf("invalid %s %q: want RFC 3339 or YYYY-MM-DD", name, raw))
}
