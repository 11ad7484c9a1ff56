package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wavemigrate/wavemigrate/internal/bundle"
	"github.com/wavemigrate/wavemigrate/internal/delta"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// Request headers naming the import target.
const (
	HeaderDomain    = "domain"
	HeaderWaveID    = "waveId"
	HeaderWaveletID = "waveletId"
)

// DefaultMaxBody bounds one posted bundle.
const DefaultMaxBody = 256 << 20

// Handler is the destination import endpoint. It accepts a POSTed bundle
// and answers "imported" or "skipped" with 200, or the error text with a
// failure status.
type Handler struct {
	replayer *Replayer
	maxBody  int64
	logger   *slog.Logger
}

// NewHandler creates a Handler. maxBody <= 0 means DefaultMaxBody.
func NewHandler(replayer *Replayer, maxBody int64, logger *slog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{replayer: replayer, maxBody: maxBody, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	target, err := targetFromHeaders(r.Header)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeText(w, http.StatusRequestEntityTooLarge, "bundle exceeds size limit")
			return
		}

		writeText(w, http.StatusBadRequest, "reading bundle: "+err.Error())

		return
	}

	// A client that disconnects mid-bundle must not leave the wavelet half
	// imported. The caller's trace, if any, carries over.
	ctx := otel.GetTextMapPropagator().Extract(context.WithoutCancel(r.Context()), propagation.HeaderCarrier(r.Header))

	res, err := h.replayer.Replay(ctx, target, body)
	if err != nil {
		status := statusFor(err)

		h.logger.Warn("import failed",
			slog.String("wavelet", target.String()),
			slog.Int("applied", res.Applied),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)

		writeText(w, status, err.Error())

		return
	}

	writeText(w, http.StatusOK, res.Outcome.String())
}

// targetFromHeaders reads the import target. The ids keep their local
// parts and move to the domain header's domain.
func targetFromHeaders(hdr http.Header) (waveid.WaveletName, error) {
	domain := hdr.Get(HeaderDomain)
	if domain == "" {
		return waveid.WaveletName{}, errors.New("missing domain header")
	}

	wave, err := waveid.ParseWaveID(hdr.Get(HeaderWaveID))
	if err != nil {
		return waveid.WaveletName{}, err
	}

	wavelet, err := waveid.ParseWaveletID(hdr.Get(HeaderWaveletID))
	if err != nil {
		return waveid.WaveletName{}, err
	}

	return waveid.NewWaveletName(wave, wavelet).Rescope(domain)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRejected):
		return http.StatusConflict
	case errors.Is(err, delta.ErrMalformed), errors.Is(err, delta.ErrChainBroken),
		errors.Is(err, bundle.ErrNoDeltas), errors.Is(err, bundle.ErrInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
