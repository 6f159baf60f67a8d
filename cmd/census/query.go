package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/census/internal/config"
	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/domain/episode"
	"github.com/ehr/census/internal/platform/db"
	"github.com/ehr/census/internal/platform/export"
)

const sourceDB = "db"

// inputFlags are shared by every query subcommand.
type inputFlags struct {
	file   string
	ip     string
	op     string
	source string
}

func (f *inputFlags) register(cmd *cobra.Command, allowDB bool) {
	cmd.Flags().StringVar(&f.file, "file", "", "Census workbook (.xlsx) with IP and New OP sheets")
	cmd.Flags().StringVar(&f.ip, "ip", "", "Inpatient sheet as CSV")
	cmd.Flags().StringVar(&f.op, "op", "", "New OP sheet as CSV")
	if allowDB {
		cmd.Flags().StringVar(&f.source, "source", "", `Set to "db" to read records from DATABASE_URL`)
	}
}

// queryEnv is the per-invocation state of a query subcommand.
type queryEnv struct {
	cfg    *config.Config
	logger zerolog.Logger
	svc    *census.Service
}

func newQueryEnv() (*queryEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	// Results go to stdout; logs go to stderr.
	logger := newLogger(cfg, os.Stderr)
	svc, err := newService(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return &queryEnv{cfg: cfg, logger: logger, svc: svc}, nil
}

func (q *queryEnv) load(ctx context.Context, in inputFlags) (*census.Records, error) {
	switch {
	case in.source != "":
		if in.source != sourceDB {
			return nil, fmt.Errorf("unknown --source %q: want %q", in.source, sourceDB)
		}
		if in.file != "" || in.ip != "" || in.op != "" {
			return nil, fmt.Errorf("--source db cannot be combined with --file, --ip or --op")
		}
		if !q.cfg.HasDatabase() {
			return nil, fmt.Errorf("--source db requires DATABASE_URL")
		}
		pool, err := db.NewPool(ctx, q.cfg.DatabaseURL, q.cfg.DBMaxConns, q.cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		q.svc.SetSource(census.NewSourceRepoPG(pool))
		return q.svc.LoadSource(ctx)

	case in.file != "":
		if in.ip != "" || in.op != "" {
			return nil, fmt.Errorf("--file cannot be combined with --ip or --op")
		}
		f, err := os.Open(in.file)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer f.Close()
		return q.svc.LoadWorkbook(f)

	case in.ip != "" && in.op != "":
		ip, err := os.Open(in.ip)
		if err != nil {
			return nil, fmt.Errorf("open inpatient csv: %w", err)
		}
		defer ip.Close()
		op, err := os.Open(in.op)
		if err != nil {
			return nil, fmt.Errorf("open outpatient csv: %w", err)
		}
		defer op.Close()
		return q.svc.LoadCSV(ip, op)
	}
	return nil, fmt.Errorf("provide --file, or both --ip and --op")
}

// output returns the destination for results and a function that closes it.
func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func writeResult(cmd *cobra.Command, path string, write func(io.Writer) error) (err error) {
	w, closeFn, err := output(cmd, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); err == nil {
			err = cerr
		}
	}()
	return write(w)
}

func parseDateFlag(name, raw string) (civil.Date, error) {
	if raw == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil || !d.IsValid() {
		return civil.Date{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", name, raw)
	}
	return d, nil
}

func rosterCmd() *cobra.Command {
	var (
		in     inputFlags
		date   string
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "List patients active on a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format, export.FormatCSV)
			if err != nil {
				return err
			}
			q, err := newQueryEnv()
			if err != nil {
				return err
			}
			recs, err := q.load(cmd.Context(), in)
			if err != nil {
				return err
			}
			res := q.svc.Roster(recs, d)
			return writeResult(cmd, out, func(w io.Writer) error {
				return census.WriteRoster(w, f, res.Entries)
			})
		},
	}
	in.register(cmd, true)
	cmd.Flags().StringVar(&date, "date", "", "Query date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv, json or parquet")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}

func trendCmd() *cobra.Command {
	var (
		in     inputFlags
		end    string
		days   int
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Count active patients per day over a trailing window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}
			if days < 0 || days > census.MaxTrendDays {
				return fmt.Errorf("invalid --days %d: want 0-%d (0 = TREND_WINDOW_DAYS)", days, census.MaxTrendDays)
			}
			f, err := export.ParseFormat(format, export.FormatCSV)
			if err != nil {
				return err
			}
			q, err := newQueryEnv()
			if err != nil {
				return err
			}
			recs, err := q.load(cmd.Context(), in)
			if err != nil {
				return err
			}
			res := q.svc.Trend(recs, d, days)
			return writeResult(cmd, out, func(w io.Writer) error {
				return census.WriteTrend(w, f, res.Counts)
			})
		},
	}
	in.register(cmd, true)
	cmd.Flags().StringVar(&end, "end", "", "Last day of the window YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 0, "Window length in days (default TREND_WINDOW_DAYS)")
	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv, json or parquet")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}

func episodesCmd() *cobra.Command {
	var (
		in  inputFlags
		mrn string
		out string
	)
	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "Print outpatient episodes as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newQueryEnv()
			if err != nil {
				return err
			}
			recs, err := q.load(cmd.Context(), in)
			if err != nil {
				return err
			}
			tbl := q.svc.Episodes(recs)
			episodes := tbl.Episodes
			if mrn = strings.TrimSpace(mrn); mrn != "" {
				episodes = tbl.ForMRN(mrn)
			}
			if episodes == nil {
				episodes = []episode.Episode{}
			}
			return writeResult(cmd, out, func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(episodes)
			})
		},
	}
	in.register(cmd, false)
	cmd.Flags().StringVar(&mrn, "mrn", "", "Only print episodes of this MRN")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}
