// Package export copies the delta history of every wavelet matched by a
// search into a bundle directory, one file per wavelet. Wavelets already
// on disk are skipped, so an interrupted export can simply be run again.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wavemigrate/wavemigrate/internal/auth"
	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/report"
	"github.com/wavemigrate/wavemigrate/internal/robot"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// DefaultPageSize is the number of digests requested per search call.
const DefaultPageSize = 100

// Source is the remote side of an export. *robot.Client implements it.
type Source interface {
	Search(ctx context.Context, query string, startIndex, maxResults int) ([]robot.Digest, error)
	ListWavelets(ctx context.Context, wave waveid.WaveID) ([]waveid.WaveletID, error)
	FetchDeltaHistory(ctx context.Context, name waveid.WaveletName) (json.RawMessage, error)
}

// Report is the outcome of a Run. Documents counts search hits whose
// wavelet list could (Done) or could not (Failed) be resolved.
type Report struct {
	Wavelets  report.Summary
	Documents report.Summary
}

// Driver runs one export. Not safe for concurrent use.
type Driver struct {
	source   Source
	store    *bundle.Store
	query    string
	pageSize int
	logger   *slog.Logger
}

// NewDriver creates a Driver. pageSize <= 0 means DefaultPageSize.
func NewDriver(source Source, store *bundle.Store, query string, pageSize int, logger *slog.Logger) *Driver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		source:   source,
		store:    store,
		query:    query,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Run pages through the search from offset 0 until an empty page and
// exports every wavelet of every hit. Per-document and per-wavelet failures
// are counted and the run continues. Run stops early with an error when a
// search call fails, authorization is lost, or ctx ends; the report then
// covers everything handled before that.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	wavelets := report.NewTally(d.logger)
	documents := report.NewTally(d.logger)

	snapshot := func() Report {
		return Report{Wavelets: wavelets.Summary(), Documents: documents.Summary()}
	}

	d.logger.Info("export starting",
		slog.String("dir", d.store.Dir()),
		slog.String("query", d.query),
		slog.Int("page_size", d.pageSize),
	)

	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return snapshot(), fmt.Errorf("export: run interrupted: %w", err)
		}

		page, err := d.source.Search(ctx, d.query, offset, d.pageSize)
		if err != nil {
			return snapshot(), fmt.Errorf("export: search at offset %d: %w", offset, err)
		}

		if len(page) == 0 {
			break
		}

		d.logger.Info("search page",
			slog.Int("offset", offset),
			slog.Int("digests", len(page)),
		)

		for _, digest := range page {
			if err := d.exportWave(ctx, digest.WaveID, wavelets, documents); err != nil {
				return snapshot(), err
			}
		}

		offset += len(page)
	}

	r := snapshot()

	d.logger.Info("export finished",
		slog.Int("exported", r.Wavelets.Done),
		slog.Int("skipped", r.Wavelets.Skipped),
		slog.Int("failed", r.Wavelets.Failed),
		slog.Int("documents", r.Documents.Done),
	)

	return r, nil
}

// exportWave exports every wavelet of one wave. It returns an error only
// for conditions that end the run.
func (d *Driver) exportWave(ctx context.Context, wave waveid.WaveID, wavelets, documents *report.Tally) error {
	ids, err := d.source.ListWavelets(ctx, wave)
	if err != nil {
		documents.Failed(wave.String(), err)
		return fatal(ctx, err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("export: run interrupted: %w", err)
		}

		name := waveid.NewWaveletName(wave, id)

		skipped, err := d.exportWavelet(ctx, name)

		switch {
		case err != nil:
			wavelets.Failed(name.String(), err)

			if ferr := fatal(ctx, err); ferr != nil {
				return ferr
			}
		case skipped:
			wavelets.Skipped(name.String())
		default:
			wavelets.Done(name.String())
		}
	}

	documents.Done(wave.String())

	return nil
}

func (d *Driver) exportWavelet(ctx context.Context, name waveid.WaveletName) (skipped bool, err error) {
	exists, err := d.store.Exists(name)
	if err != nil {
		return false, err
	}

	if exists {
		d.logger.Debug("wavelet already exported", slog.String("wavelet", name.String()))
		return true, nil
	}

	data, err := d.source.FetchDeltaHistory(ctx, name)
	if err != nil {
		return false, err
	}

	if err := d.store.Write(name, data); err != nil {
		return false, err
	}

	d.logger.Info("wavelet exported",
		slog.String("wavelet", name.String()),
		slog.Int("bytes", len(data)),
	)

	return false, nil
}

// fatal returns a run-ending error for err, or nil when err only fails the
// current item.
func fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("export: run interrupted: %w", ctx.Err())
	}

	if errors.Is(err, auth.ErrReauthorizationRequired) || errors.Is(err, auth.ErrRefreshTokenChanged) {
		return fmt.Errorf("export: %w", err)
	}

	return nil
}
