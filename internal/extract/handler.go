package extract

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/metrics"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
)

// ContentType is sent for every extract whatever the codec
const ContentType = "application/osm"

const (
	usageMessage = "URI format: /min_lat,min_lon,max_lat,max_lon[.pbf|.vex] (all coords in decimal degrees)\n"
	errorMessage = "An internal error occurred."
)

// Output is buffered so that failures in the first bufferSize bytes can
// still be answered with a clean 500.
const bufferSize = 64 * 1024

// Handler serves extracts from a store
type Handler struct {
	store store.Store
	log   *zap.Logger
}

// NewHandler creates an extract handler. A nil logger selects the "extract"
// component logger.
func NewHandler(st store.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = logger.Named("extract")
	}
	return &Handler{store: st, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rw := &responseWriter{ResponseWriter: w}
	format := "none"
	var counts stream.Counts

	defer func() {
		status := rw.Status()
		label := strconv.Itoa(status)
		aborted := recover()
		if aborted != nil {
			label = "aborted"
		}
		metrics.ExtractRequests.WithLabelValues(label, format).Inc()
		metrics.ExtractDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
		metrics.ExtractBytes.WithLabelValues(format).Add(float64(rw.written))
		metrics.ExtractEntities.WithLabelValues("node").Add(float64(counts.Nodes))
		metrics.ExtractEntities.WithLabelValues("way").Add(float64(counts.Ways))
		metrics.ExtractEntities.WithLabelValues("relation").Add(float64(counts.Relations))

		h.log.Info("Extract request",
			zap.String("method", r.Method),
			zap.String("uri", r.URL.Path),
			zap.Int("status", status),
			zap.Bool("aborted", aborted != nil),
			zap.String("bytes", humanize.Bytes(uint64(rw.written))),
			zap.Int64("entities", counts.Total()),
			zap.Duration("duration", time.Since(start)))

		if aborted != nil {
			panic(aborted)
		}
	}()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		http.Error(rw, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	req, err := ParseRequest(r.URL.Path)
	if err != nil {
		h.log.Debug("Rejected extract request", zap.String("uri", r.URL.Path), zap.Error(err))
		writeText(rw, http.StatusBadRequest, usageMessage)
		return
	}
	format = req.Format

	if r.Method == http.MethodHead {
		rw.Header().Set("Content-Type", ContentType)
		rw.WriteHeader(http.StatusOK)
		return
	}

	counts, err = h.extract(r.Context(), rw, req)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		h.log.Debug("Extract cancelled by client", zap.String("uri", r.URL.Path))
	} else {
		h.log.Error("Extract failed", zap.String("uri", r.URL.Path), zap.Error(err))
	}
	if !rw.Committed() {
		rw.Header().Del("Content-Type")
		writeText(rw, http.StatusInternalServerError, errorMessage)
		return
	}
	// The status line is gone; cut the connection so the client cannot
	// mistake a truncated stream for a complete one.
	panic(http.ErrAbortHandler)
}

// extract streams the entities inside req.Box to w in req.Format
func (h *Handler) extract(ctx context.Context, w *responseWriter, req Request) (stream.Counts, error) {
	w.Header().Set("Content-Type", ContentType)
	bw := bufio.NewWriterSize(w, bufferSize)

	sink, err := codec.SinkFor(req.Format, bw)
	if err != nil {
		return stream.Counts{}, err
	}
	counter := stream.NewCounter(stream.Guard(sink))
	if err := store.BoxSource(h.store, req.Box).CopyTo(ctx, counter); err != nil {
		return counter.Counts(), err
	}
	return counter.Counts(), bw.Flush()
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

// responseWriter records the status and byte count of a response and
// whether its header has been sent
type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// Committed reports whether the status line has been sent
func (w *responseWriter) Committed() bool {
	return w.status != 0
}

// Status returns the response status, 200 when nothing was written
func (w *responseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
