package census

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/platform/auth"
	"github.com/ehr/census/internal/platform/websocket"
)

type uploadPart struct {
	field, filename string
	body            []byte
}

func multipartBody(t *testing.T, parts ...uploadPart) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(p.body); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	svc := NewService(nil, ServiceConfig{Location: time.UTC}, zerolog.Nop())
	svc.SetClock(func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) })
	return NewHandler(svc)
}

func uploadContext(t *testing.T, target string, parts ...uploadPart) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func workbookPart(t *testing.T) uploadPart {
	return uploadPart{field: "file", filename: "census.xlsx", body: buildXLSX(t, scenarioSheets)}
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T: %v", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
	return httpErr
}

func TestHandler_UploadRosterJSON(t *testing.T) {
	h := newTestHandler(t)
	c, rec := uploadContext(t, "/api/v1/census/roster?date=2024-01-10", workbookPart(t))

	if err := h.UploadRoster(c); err != nil {
		t.Fatalf("UploadRoster() error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Data  []RosterEntry `json:"data"`
		Total int           `json:"total"`
		Meta  struct {
			Date       string `json:"date"`
			IPCount    int    `json:"ip_count"`
			NewOPCount int    `json:"new_op_count"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 2 || len(body.Data) != 2 {
		t.Fatalf("expected 2 entries, got %+v", body)
	}
	if body.Data[0].MRN != "100" || body.Data[0].Source != SourceIP {
		t.Errorf("unexpected first entry: %+v", body.Data[0])
	}
	if body.Data[1].MRN != "200" || body.Data[1].Source != SourceNewOP {
		t.Errorf("unexpected second entry: %+v", body.Data[1])
	}
	if body.Meta.Date != "2024-01-10" || body.Meta.IPCount != 1 || body.Meta.NewOPCount != 1 {
		t.Errorf("unexpected meta: %+v", body.Meta)
	}
}

func TestHandler_UploadRosterCSVDownload(t *testing.T) {
	h := newTestHandler(t)
	c, rec := uploadContext(t, "/api/v1/census/roster?format=csv", workbookPart(t))

	if err := h.UploadRoster(c); err != nil {
		t.Fatalf("UploadRoster() error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != `attachment; filename="patient_data_2024-01-10.csv"` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if !strings.HasPrefix(rec.Body.String(), "PATIENT,MRN,MED_SERVICE,HOME_PHONE,EMAIL,SOURCE\n") {
		t.Errorf("unexpected CSV body: %s", rec.Body.String())
	}
}

func TestHandler_UploadRosterFromCSVPair(t *testing.T) {
	h := newTestHandler(t)
	c, rec := uploadContext(t, "/api/v1/census/roster?date=2024-01-10",
		uploadPart{field: "ip", filename: "ip.csv", body: []byte(ipCSV)},
		uploadPart{field: "new_op", filename: "op.csv", body: []byte(opCSV)},
	)

	if err := h.UploadRoster(c); err != nil {
		t.Fatalf("UploadRoster() error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected two entries, got %s", rec.Body.String())
	}
}

func TestHandler_UploadRosterPaged(t *testing.T) {
	h := newTestHandler(t)
	c, rec := uploadContext(t, "/api/v1/census/roster?date=2024-01-10&limit=1&offset=1", workbookPart(t))

	if err := h.UploadRoster(c); err != nil {
		t.Fatalf("UploadRoster() error: %v", err)
	}
	var body struct {
		Data    []RosterEntry `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 2 || len(body.Data) != 1 || body.Data[0].MRN != "200" || body.HasMore {
		t.Errorf("unexpected page: %+v", body)
	}
}

func TestHandler_BadParams(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name   string
		target string
		call   func(echo.Context) error
	}{
		{"bad date", "/api/v1/census/roster?date=10/01/2024", h.UploadRoster},
		{"impossible date", "/api/v1/census/roster?date=2024-02-30", h.UploadRoster},
		{"bad format", "/api/v1/census/roster?format=xlsx", h.UploadRoster},
		{"bad end", "/api/v1/census/trend?end=yesterday", h.UploadTrend},
		{"zero days", "/api/v1/census/trend?days=0", h.UploadTrend},
		{"too many days", "/api/v1/census/trend?days=1000", h.UploadTrend},
		{"non-numeric days", "/api/v1/census/trend?days=week", h.UploadTrend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := uploadContext(t, tt.target, workbookPart(t))
			expectHTTPError(t, tt.call(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_MissingColumnIs422(t *testing.T) {
	h := newTestHandler(t)
	c, _ := uploadContext(t, "/api/v1/census/roster",
		uploadPart{field: "ip", filename: "ip.csv", body: []byte("PATIENT,MRN,APPT_DATE\nA,1,2024-01-10\n")},
		uploadPart{field: "new_op", filename: "op.csv", body: []byte(opCSV)},
	)

	httpErr := expectHTTPError(t, h.UploadRoster(c), http.StatusUnprocessableEntity)
	if msg, _ := httpErr.Message.(string); !strings.Contains(msg, "MED_SERVICE") {
		t.Errorf("expected message to name the column, got %v", httpErr.Message)
	}
}

func TestHandler_MissingSheetIs422(t *testing.T) {
	h := newTestHandler(t)
	sheets := map[string][][]interface{}{"IP": scenarioSheets["IP"]}
	c, _ := uploadContext(t, "/api/v1/census/roster",
		uploadPart{field: "file", filename: "census.xlsx", body: buildXLSX(t, sheets)})

	expectHTTPError(t, h.UploadRoster(c), http.StatusUnprocessableEntity)
}

func TestHandler_UploadErrors(t *testing.T) {
	h := newTestHandler(t)

	t.Run("no upload", func(t *testing.T) {
		c, _ := uploadContext(t, "/api/v1/census/roster")
		expectHTTPError(t, h.UploadRoster(c), http.StatusBadRequest)
	})

	t.Run("only ip csv", func(t *testing.T) {
		c, _ := uploadContext(t, "/api/v1/census/roster",
			uploadPart{field: "ip", filename: "ip.csv", body: []byte(ipCSV)})
		expectHTTPError(t, h.UploadRoster(c), http.StatusBadRequest)
	})

	t.Run("not a workbook", func(t *testing.T) {
		c, _ := uploadContext(t, "/api/v1/census/roster",
			uploadPart{field: "file", filename: "census.xlsx", body: []byte("plain text")})
		expectHTTPError(t, h.UploadRoster(c), http.StatusBadRequest)
	})

	t.Run("not multipart", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/census/roster", strings.NewReader("{}"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := e.NewContext(req, httptest.NewRecorder())
		expectHTTPError(t, h.UploadRoster(c), http.StatusBadRequest)
	})
}

func TestHandler_UploadTrendJSON(t *testing.T) {
	h := newTestHandler(t)
	c, rec := uploadContext(t, "/api/v1/census/trend?end=2024-01-10&days=30", workbookPart(t))

	if err := h.UploadTrend(c); err != nil {
		t.Fatalf("UploadTrend() error: %v", err)
	}

	var body struct {
		Start  string       `json:"start"`
		End    string       `json:"end"`
		Days   int          `json:"days"`
		Counts []DailyCount `json:"counts"`
		Chart  ChartSeries  `json:"chart"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Start != "2023-12-11" || body.End != "2024-01-10" || body.Days != 30 {
		t.Errorf("unexpected window: %+v", body)
	}
	if len(body.Counts) != 31 || len(body.Chart.Date) != 31 {
		t.Fatalf("expected 31 points, got %d counts, %d chart", len(body.Counts), len(body.Chart.Date))
	}
	last := body.Counts[30]
	if last.IP != 1 || last.NewOP != 1 || last.Total != 2 {
		t.Errorf("unexpected last point: %+v", last)
	}
}

func TestHandler_UploadTrendCSV(t *testing.T) {
	h := newTestHandler(t)
	c, rec := uploadContext(t, "/api/v1/census/trend?end=2024-01-10&days=1&format=csv", workbookPart(t))

	if err := h.UploadTrend(c); err != nil {
		t.Fatalf("UploadTrend() error: %v", err)
	}
	want := "Date,IP Patients,New OP Patients,Total Unique Patients\n2024-01-09,0,1,1\n2024-01-10,1,1,2\n"
	if rec.Body.String() != want {
		t.Errorf("unexpected CSV:\n%s\nwant:\n%s", rec.Body.String(), want)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "patient_trend_2024-01-10_1d.csv") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
}

func TestHandler_UploadEpisodes(t *testing.T) {
	h := newTestHandler(t)
	c, rec := uploadContext(t, "/api/v1/census/episodes", workbookPart(t))

	if err := h.UploadEpisodes(c); err != nil {
		t.Fatalf("UploadEpisodes() error: %v", err)
	}

	var body struct {
		Data []struct {
			MRN       string `json:"mrn"`
			Admit     string `json:"admit_date"`
			Discharge string `json:"discharge_date"`
		} `json:"data"`
		Meta struct {
			Appointments int `json:"appointments"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data) != 1 {
		t.Fatalf("expected one episode (telemedicine excluded), got %+v", body.Data)
	}
	if body.Data[0].Admit != "2024-01-01" || body.Data[0].Discharge != "2024-01-15" {
		t.Errorf("unexpected episode: %+v", body.Data[0])
	}
	if body.Meta.Appointments != 2 {
		t.Errorf("expected 2 appointments, got %d", body.Meta.Appointments)
	}
}

func TestHandler_SourceRoster(t *testing.T) {
	h := newTestHandler(t)
	recs := scenarioRecords()
	h.svc.SetSource(&fakeSource{ip: recs.Inpatient, op: recs.Outpatient})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/census/roster?date=2024-01-10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SourceRoster(c); err != nil {
		t.Fatalf("SourceRoster() error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected two entries, got %s", rec.Body.String())
	}
}

func TestHandler_SourceErrors(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/census/trend", nil), httptest.NewRecorder())
	expectHTTPError(t, h.SourceTrend(c), http.StatusNotFound)

	h.svc.SetSource(&fakeSource{ipErr: context.DeadlineExceeded})
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/census/trend", nil), httptest.NewRecorder())
	expectHTTPError(t, h.SourceTrend(c), http.StatusInternalServerError)
}

func TestHandler_RoutesAndRoles(t *testing.T) {
	withSource := newTestHandler(t)
	withSource.svc.SetSource(&fakeSource{})
	withFeed := newTestHandler(t)
	withFeed.SetFeed(websocket.NewHandler(websocket.NewHub(zerolog.Nop()), nil))

	tests := []struct {
		name   string
		h      *Handler
		method string
		path   string
		roles  []string
		want   int
	}{
		{"analyst may not upload rosters", newTestHandler(t), http.MethodPost, "/api/v1/census/roster", []string{auth.RoleAnalyst}, http.StatusForbidden},
		{"analyst may read trends", newTestHandler(t), http.MethodPost, "/api/v1/census/trend", []string{auth.RoleAnalyst}, http.StatusBadRequest},
		{"nurse may upload rosters", newTestHandler(t), http.MethodPost, "/api/v1/census/roster", []string{auth.RoleNurse}, http.StatusBadRequest},
		{"no db routes without a source", newTestHandler(t), http.MethodGet, "/api/v1/census/roster", []string{auth.RoleAdmin}, http.StatusNotFound},
		{"db routes with a source", withSource, http.MethodGet, "/api/v1/census/roster", []string{auth.RoleAdmin}, http.StatusOK},
		{"feed needs a websocket handshake", withFeed, http.MethodGet, "/api/v1/census/feed", []string{auth.RoleAnalyst}, http.StatusBadRequest},
		{"feed requires a census role", withFeed, http.MethodGet, "/api/v1/census/feed", []string{"billing"}, http.StatusForbidden},
		{"no feed unless configured", newTestHandler(t), http.MethodGet, "/api/v1/census/feed", []string{auth.RoleAdmin}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			roles := tt.roles
			api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
				return func(c echo.Context) error {
					ctx := context.WithValue(c.Request().Context(), auth.UserRolesKey, roles)
					c.SetRequest(c.Request().WithContext(ctx))
					return next(c)
				}
			})
			tt.h.RegisterRoutes(api)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			got := rec.Code
			if tt.want == http.StatusNotFound && got == http.StatusMethodNotAllowed {
				got = http.StatusNotFound
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
