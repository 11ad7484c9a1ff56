package importer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/report"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// Poster submits one bundle to a destination. *Client implements it.
type Poster interface {
	Post(ctx context.Context, domain string, name waveid.WaveletName, data []byte) (Outcome, error)
}

// Driver imports every bundle of a directory into one destination domain,
// one bundle at a time.
type Driver struct {
	store  *bundle.Store
	poster Poster
	domain string
	logger *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(store *bundle.Store, poster Poster, domain string, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{store: store, poster: poster, domain: domain, logger: logger}
}

// Run posts every bundle in the store. A failing bundle is counted and the
// run moves on. Run returns an error only when the directory cannot be
// listed or ctx ends; a bundle already being posted finishes first, and the
// summary covers the bundles handled so far.
func (d *Driver) Run(ctx context.Context) (report.Summary, error) {
	tally := report.NewTally(d.logger)

	entries, err := d.store.List()
	if err != nil {
		return tally.Summary(), fmt.Errorf("importer: %w", err)
	}

	d.logger.Info("import starting",
		slog.String("dir", d.store.Dir()),
		slog.String("domain", d.domain),
		slog.Int("bundles", len(entries)),
	)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return tally.Summary(), fmt.Errorf("importer: run interrupted: %w", err)
		}

		item := filepath.Base(e.Path)

		if e.Err != nil {
			tally.Failed(item, e.Err)
			continue
		}

		data, err := bundle.ReadFile(e.Path)
		if err != nil {
			tally.Failed(item, err)
			continue
		}

		// The run stops between bundles, never inside one.
		outcome, err := d.poster.Post(context.WithoutCancel(ctx), d.domain, e.Name, data)
		if err != nil {
			tally.Failed(item, err)
			continue
		}

		switch outcome {
		case Skipped:
			tally.Skipped(item)
		default:
			tally.Done(item)
		}

		d.logger.Info("bundle posted",
			slog.String("wavelet", e.Name.String()),
			slog.String("outcome", outcome.String()),
		)
	}

	return tally.Summary(), nil
}
