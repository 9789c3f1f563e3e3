package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"transcode-bridge/internal/domain"
	"transcode-bridge/internal/jobs"
)

const (
	maxBodyBytes     = 1 << 20
	wsWriteWait      = 10 * time.Second
	subscriberBuffer = 256
)

// Bridge is the operation surface exposed over HTTP.
type Bridge interface {
	Execute(command string) domain.JobResult
	ExecuteAsync(command string) domain.ExecuteAsyncResult
	Cancel() domain.CancelResult
	StartProcessing() domain.OperationResult
	StageIn(uri string) domain.StageInResult
	StageOut(source, filename, destFolder string) domain.StageOutResult
	OutputPath(ext string) domain.StageInResult
	CheckAccess() domain.AccessStatus
	RequestAccess() domain.AccessRequestResult
	OpenAppSettings() domain.OperationResult
	ShowStatus(progress, current, total int) domain.OperationResult
	HideStatus() domain.OperationResult
	CurrentJob() domain.Job
	JobEvents(sinceSeq int64) []jobs.Event
	RecentJobs(limit int) ([]domain.Job, error)
	GetDiagnostics() domain.DiagnosticReport
	RefreshDiagnostics() (domain.DiagnosticReport, error)
	GetSettings() (domain.Settings, error)
	SaveSettings(domain.Settings) (domain.Settings, error)
}

// Subscriber streams events published after Subscribe.
type Subscriber interface {
	Subscribe(buffer int) (<-chan jobs.Event, func())
}

// Server routes HTTP and websocket requests to a Bridge.
type Server struct {
	bridge   Bridge
	events   Subscriber
	router   *chi.Mux
	upgrader websocket.Upgrader
}

// New builds the router. metrics may be nil.
func New(bridge Bridge, events Subscriber, metrics http.Handler) *Server {
	s := &Server{
		bridge: bridge,
		events: events,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.registerRoutes(metrics)
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes(metrics http.Handler) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Post("/execute", s.execute)
	s.router.Post("/execute-async", s.executeAsync)
	s.router.Post("/cancel", s.cancel)
	s.router.Post("/keep-awake", s.keepAwake)

	s.router.Post("/stage-in", s.stageIn)
	s.router.Post("/stage-out", s.stageOut)
	s.router.Post("/output-path", s.outputPath)

	s.router.Get("/access", s.checkAccess)
	s.router.Post("/access/request", s.requestAccess)
	s.router.Post("/access/app-settings", s.openAppSettings)

	s.router.Post("/status/show", s.showStatus)
	s.router.Post("/status/hide", s.hideStatus)

	s.router.Get("/jobs/current", s.currentJob)
	s.router.Get("/jobs/history", s.jobHistory)
	s.router.Get("/jobs/events", s.jobEvents)
	s.router.Get("/events", s.stream)

	s.router.Get("/settings", s.getSettings)
	s.router.Put("/settings", s.saveSettings)
	s.router.Get("/diagnostics", s.diagnostics)
	s.router.Post("/diagnostics/refresh", s.refreshDiagnostics)

	if metrics != nil {
		s.router.Handle("/metrics", metrics)
	}
	s.router.Get("/healthz", health)
}

type commandRequest struct {
	Command string `json:"command"`
}

type stageInRequest struct {
	URI string `json:"uri"`
}

type stageOutRequest struct {
	Source     string `json:"source"`
	Filename   string `json:"filename"`
	DestFolder string `json:"destFolder"`
}

type outputPathRequest struct {
	Ext string `json:"ext"`
}

type statusRequest struct {
	Progress int `json:"progress"`
	Current  int `json:"current"`
	Total    int `json:"total"`
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.Execute(req.Command))
}

func (s *Server) executeAsync(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.ExecuteAsync(req.Command))
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Cancel())
}

func (s *Server) keepAwake(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.StartProcessing())
}

func (s *Server) stageIn(w http.ResponseWriter, r *http.Request) {
	var req stageInRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.StageIn(req.URI))
}

func (s *Server) stageOut(w http.ResponseWriter, r *http.Request) {
	var req stageOutRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.StageOut(req.Source, req.Filename, req.DestFolder))
}

func (s *Server) outputPath(w http.ResponseWriter, r *http.Request) {
	var req outputPathRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.OutputPath(req.Ext))
}

func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.CheckAccess())
}

func (s *Server) requestAccess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.RequestAccess())
}

func (s *Server) openAppSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.OpenAppSettings())
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.ShowStatus(req.Progress, req.Current, req.Total))
}

func (s *Server) hideStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.HideStatus())
}

func (s *Server) currentJob(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.CurrentJob())
}

func (s *Server) jobHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	recent, err := s.bridge.RecentJobs(int(limit))
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err)
		return
	}
	if recent == nil {
		recent = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) jobEvents(w http.ResponseWriter, r *http.Request) {
	since, ok := queryInt(w, r, "since")
	if !ok {
		return
	}
	events := s.bridge.JobEvents(since)
	if events == nil {
		events = []jobs.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// stream sends bus events over a websocket, replaying buffered events after ?since= first.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	since, ok := queryInt(w, r, "since")
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, unsubscribe := s.events.Subscribe(subscriberBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastSeq int64
	send := func(ev jobs.Event) bool {
		if ev.Seq <= lastSeq {
			return true
		}
		lastSeq = ev.Seq
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}

	if r.URL.Query().Has("since") {
		for _, ev := range s.bridge.JobEvents(since) {
			if !send(ev) {
				return
			}
		}
	}

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-ch:
			if !ok || !send(ev) {
				return
			}
		}
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.bridge.GetSettings()
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.Settings
	if !decode(w, r, &req) {
		return
	}
	settings, err := s.bridge.SaveSettings(req)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.GetDiagnostics())
}

func (s *Server) refreshDiagnostics(w http.ResponseWriter, r *http.Request) {
	report, err := s.bridge.RefreshDiagnostics()
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

// decode reads an optional JSON body into dst. An empty body leaves dst zero.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, http.StatusBadRequest, domain.NewError(domain.KindInvalidInput, "invalid request body", err))
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, domain.NewError(domain.KindInvalidInput, "invalid "+key, err))
		return 0, false
	}
	return n, true
}

func writeFailure(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, domain.Failure(err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

// requestLogger logs each request with its chi request ID.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
