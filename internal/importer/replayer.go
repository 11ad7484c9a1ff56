// Package importer moves exported delta bundles into a destination server.
//
// The destination side is the Replayer (wrapped as an HTTP Handler): it
// decides whether a wavelet is already present, rewrites each delta for
// the destination domain and submits it synchronously, chaining hashed
// versions. The source side is the Driver, which walks a bundle directory
// and posts every bundle through a Client.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/delta"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

const tracerName = "github.com/wavemigrate/wavemigrate/internal/importer"

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("importer: delta rejected by destination")

// Outcome of importing one bundle.
type Outcome int

const (
	Imported Outcome = iota
	Skipped
)

// Wire tokens for Outcome.
const (
	tokenImported = "imported"
	tokenSkipped  = "skipped"
)

func (o Outcome) String() string {
	if o == Skipped {
		return tokenSkipped
	}

	return tokenImported
}

// Destination is the wavelet store deltas are submitted to.
// *wavestore.Store implements it.
type Destination interface {
	// HasSnapshot reports whether the wavelet already exists.
	HasSnapshot(ctx context.Context, name waveid.WaveletName) (bool, error)

	// Submit applies d and returns the resulting hashed version.
	Submit(ctx context.Context, name waveid.WaveletName, d *delta.WaveletDelta) (delta.HashedVersion, error)
}

// RejectedError reports the delta that stopped a bundle. Deltas before it
// stay applied.
type RejectedError struct {
	Index   int // position of the rejected delta in the bundle
	Applied int // deltas applied before it
	Err     error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("importer: delta %d rejected after %d applied: %v", e.Index, e.Applied, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRejected) match.
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Result describes one Replay call.
type Result struct {
	Outcome Outcome
	Applied int
	Total   int
}

// Replayer replays bundles onto a Destination. Bundles are independent;
// deltas within one bundle are strictly sequential.
type Replayer struct {
	dest   Destination
	logger *slog.Logger
	tracer trace.Tracer
}

// NewReplayer creates a Replayer.
func NewReplayer(dest Destination, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Replayer{dest: dest, logger: logger, tracer: otel.Tracer(tracerName)}
}

// Replay imports the bundle data into target, whose domain is the
// destination domain. An existing target is skipped without decoding the
// bundle. Otherwise every delta is transformed and submitted in order; the
// first rejection stops the bundle with a *RejectedError. Once submission
// starts, cancellation of ctx is ignored: a partly applied wavelet would be
// skipped by every later run, so the bundle always runs to its end. Undecodable
// bundles fail with bundle.ErrInvalid or bundle.ErrNoDeltas before anything
// is submitted; a bad delta fails with delta.ErrMalformed or
// delta.ErrChainBroken at its position.
func (r *Replayer) Replay(ctx context.Context, target waveid.WaveletName, data []byte) (res Result, err error) {
	ctx, span := r.tracer.Start(ctx, "importer.Replay",
		trace.WithAttributes(
			attribute.String("wave_id", target.Wave.String()),
			attribute.String("wavelet_id", target.Wavelet.String()),
		),
	)

	defer func() {
		span.SetAttributes(attribute.Int("deltas.applied", res.Applied))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	exists, err := r.dest.HasSnapshot(ctx, target)
	if err != nil {
		return Result{}, fmt.Errorf("importer: checking %s: %w", target, err)
	}

	if exists {
		r.logger.Info("wavelet already present, skipping", slog.String("wavelet", target.String()))
		return Result{Outcome: Skipped}, nil
	}

	raw, err := bundle.RawDeltas(data)
	if err != nil {
		return Result{}, fmt.Errorf("importer: decoding bundle for %s: %w", target, err)
	}

	res.Total = len(raw)
	tr := delta.NewTransformer(target)
	submitCtx := context.WithoutCancel(ctx)

	for i, applied := range raw {
		d, err := tr.Transform(applied)
		if err != nil {
			return res, fmt.Errorf("importer: delta %d of %s: %w", i, target, err)
		}

		hv, err := r.dest.Submit(submitCtx, target, d)
		if err != nil {
			return res, &RejectedError{Index: i, Applied: res.Applied, Err: err}
		}

		tr.Advance(hv)
		res.Applied++

		r.logger.Debug("delta submitted",
			slog.String("wavelet", target.String()),
			slog.Int("index", i),
			slog.Int64("version", hv.Version),
		)
	}

	r.logger.Info("wavelet imported",
		slog.String("wavelet", target.String()),
		slog.Int("deltas", res.Applied),
	)

	return res, nil
}
