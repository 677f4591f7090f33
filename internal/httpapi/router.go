// Package httpapi is the thin JSON boundary over the tracker.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"blitztrack/internal/duel"
	"blitztrack/internal/metrics"
	"blitztrack/internal/tracker"
	logx "blitztrack/pkg/logx"
)

// Tracker is the scheduler surface the handlers use.
type Tracker interface {
	Submit(ctx context.Context, req tracker.SubmitRequest) (duel.Job, error)
	Cancel(ctx context.Context, id string) tracker.CancelResult
	Status(id string) (duel.Job, error)
	ListActive() []duel.Job
	ListAll() []duel.Job
	DecidedIDs() []string
	Winners() []duel.LedgerEntry
	Evict(olderThan time.Duration) int
	Stats() tracker.Stats
}

type Options struct {
	// Source backs /verify. When nil the route answers 501.
	Source     tracker.Source
	FetchLimit int

	AllowedOrigins []string
	Pprof          bool
	RequestTimeout time.Duration
	Log            logx.Logger
}

type handler struct {
	t        Tracker
	source   tracker.Source
	limit    int
	validate *requestValidator
	log      logx.Logger
}

// NewRouter mounts every route on a fresh chi mux.
func NewRouter(t Tracker, opts Options) http.Handler {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = tracker.DefaultFetchLimit
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &handler{
		t:        t,
		source:   opts.Source,
		limit:    opts.FetchLimit,
		validate: newRequestValidator(),
		log:      opts.Log.With(logx.String("comp", "http")),
	}

	r := chi.NewRouter()
	r.Use(
		metrics.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}),
		middleware.RequestID,
		middleware.RealIP,
		h.requestLogger,
		middleware.Recoverer,
		middleware.Timeout(opts.RequestTimeout),
		render.SetContentType(render.ContentTypeJSON),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = render.Render(w, r, errNotFound("no such route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = render.Render(w, r, &ErrResponse{HTTPStatusCode: http.StatusMethodNotAllowed, Status: "error", Message: "method not allowed"})
	})

	r.Get("/", h.health)
	r.Post("/start_tracking", h.startTracking)
	r.Get("/check_status/{job_id}", h.checkStatus)
	r.Post("/stop_tracking", h.stopTracking)
	r.Get("/list_tracking", h.listTracking)
	r.Get("/all_tracking_history", h.allHistory)
	r.Get("/matches_completed", h.matchesCompleted)
	r.Get("/winners", h.winners)
	r.Post("/verify", h.verify)
	r.Post("/evict", h.evict)
	r.Get("/stats", h.stats)
	r.Handle("/metrics", metrics.Handler())
	if opts.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("code", ww.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
