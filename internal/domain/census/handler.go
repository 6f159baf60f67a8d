package census

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/census/internal/platform/auth"
	"github.com/ehr/census/internal/platform/export"
	"github.com/ehr/census/internal/platform/websocket"
	"github.com/ehr/census/internal/platform/workbook"
	"github.com/ehr/census/pkg/pagination"
)

// MaxTrendDays bounds the days query parameter.
const MaxTrendDays = 366

type Handler struct {
	svc  *Service
	feed *websocket.Handler
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SetFeed exposes ws at GET /census/feed for trend readers.
func (h *Handler) SetFeed(ws *websocket.Handler) { h.feed = ws }

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/census")

	// Rosters expose names and contact details.
	roster := g.Group("", auth.RequireRole(auth.CensusReaders...))
	roster.POST("/roster", h.UploadRoster)
	roster.POST("/episodes", h.UploadEpisodes)

	trend := g.Group("", auth.RequireRole(auth.TrendReaders...))
	trend.POST("/trend", h.UploadTrend)
	if h.feed != nil {
		trend.GET("/feed", h.feed.Connect)
	}

	if h.svc.HasSource() {
		roster.GET("/roster", h.SourceRoster)
		trend.GET("/trend", h.SourceTrend)
	}
}

type rosterMeta struct {
	RunID       uuid.UUID  `json:"run_id"`
	Date        civil.Date `json:"date"`
	IPCount     int        `json:"ip_count"`
	NewOPCount  int        `json:"new_op_count"`
	GeneratedAt time.Time  `json:"generated_at"`
}

type trendResponse struct {
	*TrendResult
	Chart ChartSeries `json:"chart"`
}

type episodesMeta struct {
	Appointments int `json:"appointments"`
}

// -- Upload endpoints --

func (h *Handler) UploadRoster(c echo.Context) error {
	date, err := dateParam(c, "date")
	if err != nil {
		return err
	}
	f, err := formatParam(c)
	if err != nil {
		return err
	}
	recs, err := h.loadUpload(c)
	if err != nil {
		return err
	}
	return h.writeRoster(c, h.svc.Roster(recs, date), f)
}

func (h *Handler) UploadTrend(c echo.Context) error {
	end, days, f, err := trendParams(c)
	if err != nil {
		return err
	}
	recs, err := h.loadUpload(c)
	if err != nil {
		return err
	}
	return h.writeTrend(c, h.svc.Trend(recs, end, days), f)
}

func (h *Handler) UploadEpisodes(c echo.Context) error {
	recs, err := h.loadUpload(c)
	if err != nil {
		return err
	}
	tbl := h.svc.Episodes(recs)
	resp := pagination.Paginate(tbl.Episodes, pagination.FromContext(c))
	resp.Meta = episodesMeta{Appointments: tbl.Len()}
	return c.JSON(http.StatusOK, resp)
}

// -- Warehouse endpoints --

func (h *Handler) SourceRoster(c echo.Context) error {
	date, err := dateParam(c, "date")
	if err != nil {
		return err
	}
	f, err := formatParam(c)
	if err != nil {
		return err
	}
	recs, err := h.loadSource(c)
	if err != nil {
		return err
	}
	return h.writeRoster(c, h.svc.Roster(recs, date), f)
}

func (h *Handler) SourceTrend(c echo.Context) error {
	end, days, f, err := trendParams(c)
	if err != nil {
		return err
	}
	recs, err := h.loadSource(c)
	if err != nil {
		return err
	}
	return h.writeTrend(c, h.svc.Trend(recs, end, days), f)
}

// -- Responses --

func (h *Handler) writeRoster(c echo.Context, res *RosterResult, f export.Format) error {
	if f == export.FormatJSON {
		resp := pagination.Paginate(res.Entries, pagination.FromContext(c))
		resp.Meta = rosterMeta{
			RunID:       res.RunID,
			Date:        res.Date,
			IPCount:     res.IPCount,
			NewOPCount:  res.NewOPCount,
			GeneratedAt: res.GeneratedAt,
		}
		return c.JSON(http.StatusOK, resp)
	}

	var buf bytes.Buffer
	if err := WriteRoster(&buf, f, res.Entries); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "encode roster").SetInternal(err)
	}
	return attachment(c, RosterFilename(res.Date, f), f, buf.Bytes())
}

func (h *Handler) writeTrend(c echo.Context, res *TrendResult, f export.Format) error {
	if f == export.FormatJSON {
		return c.JSON(http.StatusOK, trendResponse{TrendResult: res, Chart: NewChartSeries(res.Counts)})
	}

	var buf bytes.Buffer
	if err := WriteTrend(&buf, f, res.Counts); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "encode trend").SetInternal(err)
	}
	return attachment(c, TrendFilename(res.End, res.Days, f), f, buf.Bytes())
}

func attachment(c echo.Context, filename string, f export.Format, body []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, f.ContentType(), body)
}

// -- Inputs --

// loadUpload accepts either an .xlsx workbook in the "file" field or the two
// sheets as CSV files in "ip" and "new_op".
func (h *Handler) loadUpload(c echo.Context) (*Records, error) {
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		src, err := fh.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
		}
		defer src.Close()
		recs, err := h.svc.LoadWorkbook(src)
		if err != nil {
			return nil, uploadError(err)
		}
		return recs, nil
	case !errors.Is(err, http.ErrMissingFile):
		return nil, formError(err)
	}

	ipFH, err := c.FormFile("ip")
	if err != nil {
		return nil, missingUpload(err)
	}
	opFH, err := c.FormFile("new_op")
	if err != nil {
		return nil, missingUpload(err)
	}

	ip, err := ipFH.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded ip file")
	}
	defer ip.Close()
	op, err := opFH.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded new_op file")
	}
	defer op.Close()

	recs, err := h.svc.LoadCSV(ip, op)
	if err != nil {
		return nil, uploadError(err)
	}
	return recs, nil
}

func (h *Handler) loadSource(c echo.Context) (*Records, error) {
	recs, err := h.svc.LoadSource(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrNoSource) {
			return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "census source unavailable").SetInternal(err)
	}
	return recs, nil
}

func uploadError(err error) error {
	if workbook.IsInputError(err) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return formError(err)
}

func formError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func missingUpload(err error) error {
	if errors.Is(err, http.ErrMissingFile) {
		return echo.NewHTTPError(http.StatusBadRequest,
			`upload a workbook as "file" or CSV files as "ip" and "new_op"`)
	}
	return formError(err)
}

func dateParam(c echo.Context, name string) (civil.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil || !d.IsValid() {
		return civil.Date{}, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("invalid %s %q: want YYYY-MM-DD", name, raw))
	}
	return d, nil
}

func formatParam(c echo.Context) (export.Format, error) {
	f, err := export.ParseFormat(c.QueryParam("format"), export.FormatJSON)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return f, nil
}

func trendParams(c echo.Context) (civil.Date, int, export.Format, error) {
	end, err := dateParam(c, "end")
	if err != nil {
		return civil.Date{}, 0, "", err
	}
	days := 0
	if raw := c.QueryParam("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 || days > MaxTrendDays {
			return civil.Date{}, 0, "", echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("invalid days %q: want 1-%d", raw, MaxTrendDays))
		}
	}
	f, err := formatParam(c)
	if err != nil {
		return civil.Date{}, 0, "", err
	}
	return end, days, f, nil
}
