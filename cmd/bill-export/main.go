package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/reprog-billing/internal/billdoc"
	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/repository"
)

const (
	dateLayout    = "2006-01-02"
	progressEvery = 10_000
	bufferedBills = 256
)

func main() {
	var (
		databaseURL string
		fromFlag    string
		toFlag      string
		out         string
		format      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&fromFlag, "from", "", "first paid day to export, YYYY-MM-DD (default: first day of last month)")
	flag.StringVar(&toFlag, "to", "", "day after the last exported day, YYYY-MM-DD (default: first day of this month)")
	flag.StringVar(&out, "out", "", "output file (required)")
	flag.StringVar(&format, "format", "", "xlsx or jsonl; inferred from the output extension when empty")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if out == "" {
		slog.Error("output file is required: set --out")
		os.Exit(1)
	}

	from, to, err := period(fromFlag, toFlag, time.Now())
	if err != nil {
		slog.Error("invalid period", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if format == "" {
		format = formatOf(out)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, from, to, out, format); err != nil {
		slog.Error("bill export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("bill export completed successfully")
}

// period resolves the [from, to) export window. Both bounds default to the
// previous calendar month in UTC.
func period(fromFlag, toFlag string, now time.Time) (time.Time, time.Time, error) {
	now = now.UTC()
	to := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, -1, 0)

	var err error
	if fromFlag != "" {
		if from, err = time.Parse(dateLayout, fromFlag); err != nil {
			return from, to, errors.Wrap(err, "parse --from")
		}
	}
	if toFlag != "" {
		if to, err = time.Parse(dateLayout, toFlag); err != nil {
			return from, to, errors.Wrap(err, "parse --to")
		}
	}
	if !from.Before(to) {
		return from, to, errors.Errorf("empty period %s..%s", from.Format(dateLayout), to.Format(dateLayout))
	}
	return from, to, nil
}

func formatOf(path string) string {
	if strings.HasSuffix(path, ".xlsx") {
		return "xlsx"
	}
	return "jsonl"
}

func run(ctx context.Context, databaseURL string, from, to time.Time, out, format string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	f, err := os.Create(out)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer func() { _ = f.Close() }()

	var (
		sink   billdoc.Sink
		finish func() error
	)
	switch format {
	case "xlsx":
		x, err := billdoc.NewXLSXWriter()
		if err != nil {
			return err
		}
		defer func() { _ = x.Close() }()
		sink = x
		finish = func() error {
			_, err := x.WriteTo(f)
			return err
		}
	case "jsonl":
		j, err := billdoc.NewJSONLWriter(f)
		if err != nil {
			return err
		}
		sink = j
		finish = j.Close
	default:
		return errors.Errorf("unknown format %q", format)
	}

	slog.Info("exporting bills",
		slog.String("from", from.Format(dateLayout)),
		slog.String("to", to.Format(dateLayout)),
		slog.String("format", format),
		slog.String("out", out),
	)

	if err := export(ctx, repository.NewBillRepository(pool), from, to, sink); err != nil {
		return err
	}
	if err := finish(); err != nil {
		return errors.Wrap(err, "finish output")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close output file")
	}

	slog.Info("bills exported", slog.Int("count", sink.Rows()))
	return nil
}

type billSource interface {
	EachPaidBetween(ctx context.Context, from, to time.Time, fn func(bill.Bill) error) error
}

// export reads bills on one goroutine and writes them on another so the
// database cursor keeps streaming while the sink encodes.
func export(ctx context.Context, src billSource, from, to time.Time, sink billdoc.Sink) error {
	bills := make(chan bill.Bill, bufferedBills)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(bills)
		err := src.EachPaidBetween(ctx, from, to, func(b bill.Bill) error {
			select {
			case bills <- b:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return errors.Wrap(err, "read bills")
	})
	g.Go(func() error {
		for b := range bills {
			if err := sink.Add(b); err != nil {
				return err
			}
			if n := sink.Rows(); n%progressEvery == 0 {
				slog.Info("export progress", slog.Int("bills", n))
			}
		}
		return nil
	})
	return g.Wait()
}
