package census

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/episode"
	"github.com/ehr/census/internal/platform/metrics"
	"github.com/ehr/census/internal/platform/websocket"
	"github.com/ehr/census/internal/platform/workbook"
)

// ErrNoSource is returned when a query asks for warehouse records but no
// SourceRepository is configured.
var ErrNoSource = errors.New("no census data source configured")

// ServiceConfig holds the tunables of a Service.
type ServiceConfig struct {
	WindowDays int
	Location   *time.Location
}

// RosterResult is one roster computation.
type RosterResult struct {
	RunID       uuid.UUID     `json:"run_id"`
	Date        civil.Date    `json:"date"`
	Entries     []RosterEntry `json:"entries"`
	IPCount     int           `json:"ip_count"`
	NewOPCount  int           `json:"new_op_count"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// TrendResult is one rolling-window computation.
type TrendResult struct {
	RunID       uuid.UUID    `json:"run_id"`
	Start       civil.Date   `json:"start"`
	End         civil.Date   `json:"end"`
	Days        int          `json:"days"`
	Counts      []DailyCount `json:"counts"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type Service struct {
	engine  *Engine
	cfg     ServiceConfig
	logger  zerolog.Logger
	source  SourceRepository
	metrics *metrics.CensusMetrics
	feed    websocket.Publisher
	now     func() time.Time
}

func NewService(engine *Engine, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if engine == nil {
		engine = NewEngine(nil)
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		engine: engine,
		cfg:    cfg,
		logger: logger.With().Str("component", "census").Logger(),
		now:    time.Now,
	}
}

// SetSource attaches an optional warehouse source.
func (s *Service) SetSource(repo SourceRepository) { s.source = repo }

// HasSource reports whether a warehouse source is configured.
func (s *Service) HasSource() bool { return s.source != nil }

// SetMetrics attaches optional metrics collectors.
func (s *Service) SetMetrics(m *metrics.CensusMetrics) { s.metrics = m }

// SetFeed attaches a publisher that receives a count-only summary of every
// roster and trend computation.
func (s *Service) SetFeed(p websocket.Publisher) { s.feed = p }

// SetClock replaces the wall clock, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// WindowDays returns the configured trend window.
func (s *Service) WindowDays() int { return s.cfg.WindowDays }

// Today returns the current date in the configured location.
func (s *Service) Today() civil.Date {
	return civil.DateOf(s.now().In(s.cfg.Location))
}

// LoadWorkbook decodes an uploaded .xlsx workbook.
func (s *Service) LoadWorkbook(r io.Reader) (*Records, error) {
	wb, err := workbook.Open(r)
	if err != nil {
		return nil, err
	}
	return s.decode(wb)
}

// LoadCSV decodes an inpatient/outpatient CSV pair.
func (s *Service) LoadCSV(ip, op io.Reader) (*Records, error) {
	wb, err := workbook.FromCSV(map[string]io.Reader{
		workbook.SheetInpatient:  ip,
		workbook.SheetOutpatient: op,
	})
	if err != nil {
		return nil, err
	}
	return s.decode(wb)
}

func (s *Service) decode(wb *workbook.Workbook) (*Records, error) {
	start := time.Now()
	recs, err := Decode(wb)
	s.metrics.ObserveComputation("decode", err, time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn().Err(err).Msg("workbook rejected")
		return nil, err
	}
	s.metrics.ObserveRows(workbook.SheetInpatient, len(recs.Inpatient))
	s.metrics.ObserveRows(workbook.SheetOutpatient, len(recs.Outpatient))
	s.logger.Debug().
		Int("inpatient_rows", len(recs.Inpatient)).
		Int("outpatient_rows", len(recs.Outpatient)).
		Msg("workbook decoded")
	return recs, nil
}

// LoadSource reads both record sets from the warehouse source.
func (s *Service) LoadSource(ctx context.Context) (*Records, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	start := time.Now()
	ip, err := s.source.ListInpatient(ctx)
	if err != nil {
		s.metrics.ObserveComputation("load_source", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("load inpatient records: %w", err)
	}
	op, err := s.source.ListOutpatient(ctx)
	s.metrics.ObserveComputation("load_source", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("load outpatient records: %w", err)
	}
	s.metrics.ObserveRows(workbook.SheetInpatient, len(ip))
	s.metrics.ObserveRows(workbook.SheetOutpatient, len(op))
	return &Records{Inpatient: ip, Outpatient: op}, nil
}

// Episodes builds the outpatient episode table of recs.
func (s *Service) Episodes(recs *Records) *episode.Table {
	start := time.Now()
	tbl := s.engine.Episodes(recs.Outpatient)
	s.metrics.ObserveEpisodes(len(tbl.Episodes))
	s.metrics.ObserveComputation("episodes", nil, time.Since(start).Seconds())
	return tbl
}

// Roster computes the roster of date. A zero date means today.
func (s *Service) Roster(recs *Records, date civil.Date) *RosterResult {
	start := time.Now()
	if date.IsZero() {
		date = s.Today()
	}

	tbl := s.engine.Episodes(recs.Outpatient)
	ipRows := InpatientRoster(recs.Inpatient, date)
	opRows := OutpatientRoster(tbl, date)

	res := &RosterResult{
		RunID:       uuid.New(),
		Date:        date,
		Entries:     append(ipRows, opRows...),
		IPCount:     len(ipRows),
		NewOPCount:  len(opRows),
		GeneratedAt: s.now().UTC(),
	}

	s.metrics.ObserveEpisodes(len(tbl.Episodes))
	s.metrics.ObserveRoster(SourceIP, res.IPCount)
	s.metrics.ObserveRoster(SourceNewOP, res.NewOPCount)
	s.metrics.ObserveComputation("roster", nil, time.Since(start).Seconds())
	s.logger.Info().
		Str("run_id", res.RunID.String()).
		Str("date", date.String()).
		Int("episodes", len(tbl.Episodes)).
		Int("ip_rows", res.IPCount).
		Int("new_op_rows", res.NewOPCount).
		Dur("elapsed", time.Since(start)).
		Msg("roster computed")

	s.publish(websocket.TopicRoster, "roster.computed", res.RunID, res.GeneratedAt, rosterSummary{
		Date:       res.Date,
		IPCount:    res.IPCount,
		NewOPCount: res.NewOPCount,
		Episodes:   len(tbl.Episodes),
	})
	return res
}

// Trend computes daily counts for [end-days, end]. A zero end means today
// and days <= 0 means the configured window.
func (s *Service) Trend(recs *Records, end civil.Date, days int) *TrendResult {
	start := time.Now()
	if end.IsZero() {
		end = s.Today()
	}
	if days <= 0 {
		days = s.cfg.WindowDays
	}

	tbl := s.engine.Episodes(recs.Outpatient)
	counts := TrendFromTable(recs.Inpatient, tbl, end, days)

	res := &TrendResult{
		RunID:       uuid.New(),
		Start:       end.AddDays(-days),
		End:         end,
		Days:        days,
		Counts:      counts,
		GeneratedAt: s.now().UTC(),
	}

	s.metrics.ObserveEpisodes(len(tbl.Episodes))
	s.metrics.ObserveComputation("trend", nil, time.Since(start).Seconds())
	s.logger.Info().
		Str("run_id", res.RunID.String()).
		Str("start", res.Start.String()).
		Str("end", end.String()).
		Int("episodes", len(tbl.Episodes)).
		Dur("elapsed", time.Since(start)).
		Msg("trend computed")

	sum := trendSummary{Start: res.Start, End: res.End, Days: res.Days}
	if n := len(counts); n > 0 {
		sum.Latest = &counts[n-1]
	}
	s.publish(websocket.TopicTrend, "trend.computed", res.RunID, res.GeneratedAt, sum)
	return res
}

type rosterSummary struct {
	Date       civil.Date `json:"date"`
	IPCount    int        `json:"ip_count"`
	NewOPCount int        `json:"new_op_count"`
	Episodes   int        `json:"episodes"`
}

type trendSummary struct {
	Start  civil.Date  `json:"start"`
	End    civil.Date  `json:"end"`
	Days   int         `json:"days"`
	Latest *DailyCount `json:"latest,omitempty"`
}

func (s *Service) publish(topic, typ string, runID uuid.UUID, at time.Time, summary interface{}) {
	if s.feed == nil {
		return
	}
	ev := websocket.NewEvent(topic, typ, runID.String(), at, summary)
	if err := s.feed.Publish(context.Background(), ev); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("feed publish failed")
	}
}
