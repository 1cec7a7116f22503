// Package server exposes the job operator and explorer over HTTP, together with
// health and Prometheus endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "server"

// Handler serves the batch API.
type Handler struct {
	operator usecase.JobOperator
	explorer usecase.JobExplorer
	registry usecase.JobRegistry
	router   chi.Router
}

// NewHandler builds the router. metrics may be nil, in which case /metrics is not served.
func NewHandler(operator usecase.JobOperator, explorer usecase.JobExplorer, registry usecase.JobRegistry, metrics http.Handler) *Handler {
	h := &Handler{operator: operator, explorer: explorer, registry: registry}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Get("/{job}/instances", h.listInstances)
		r.Get("/{job}/executions/running", h.listRunning)
		r.Post("/{job}/executions", h.start)
	})
	r.Route("/executions/{id}", func(r chi.Router) {
		r.Get("/", h.getExecution)
		r.Post("/restart", h.restart)
		r.Post("/stop", h.stop)
		r.Post("/abandon", h.abandon)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// StartRequest is the body of POST /jobs/{job}/executions. Parameters use the
// "name(type)=value" notation of the command line. Next derives the parameters
// from the job's incrementer instead.
type StartRequest struct {
	Parameters []string `json:"parameters"`
	Next       bool     `json:"next"`
}

func (h *Handler) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"jobs": h.registry.JobNames()})
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request) {
	start, err := intQuery(r, "start", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := intQuery(r, "count", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	instances, err := h.explorer.GetJobInstances(r.Context(), chi.URLParam(r, "job"), start, count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instances)
}

func (h *Handler) listRunning(w http.ResponseWriter, r *http.Request) {
	executions, err := h.explorer.GetRunningJobExecutions(r.Context(), chi.URLParam(r, "job"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, exception.NewBatchError(exception.KindJobParametersInvalid, module, "malformed request body", err))
		return
	}
	job := chi.URLParam(r, "job")
	// The execution outlives the request.
	ctx := context.WithoutCancel(r.Context())

	var (
		je  *model.JobExecution
		err error
	)
	if req.Next {
		je, err = h.operator.StartNextInstance(ctx, job)
	} else {
		var params model.JobParameters
		if params, err = model.ParseJobParameters(req.Parameters); err == nil {
			je, err = h.operator.Start(ctx, job, params)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, je)
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	je, err := h.explorer.GetJobExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, je)
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	je, err := h.operator.Restart(context.WithoutCancel(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, je)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.operator.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.operator.Abandon(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, exception.NewBatchErrorf(exception.KindJobParametersInvalid, module, "query parameter '%s' must be a non-negative integer", name)
	}
	return n, nil
}

// StatusOf maps a failure to the HTTP status reported for it.
func StatusOf(err error) int {
	switch {
	case exception.IsKind(err, exception.KindNoSuchJob), exception.IsKind(err, exception.KindNoSuchJobExecution):
		return http.StatusNotFound
	case exception.IsKind(err, exception.KindJobParametersInvalid), exception.IsKind(err, exception.KindConfiguration):
		return http.StatusBadRequest
	case exception.IsKind(err, exception.KindJobExecutionAlreadyRunning),
		exception.IsKind(err, exception.KindJobInstanceAlreadyComplete),
		exception.IsKind(err, exception.KindDuplicateJobInstance),
		exception.IsKind(err, exception.KindJobRestart),
		exception.IsKind(err, exception.KindIllegalState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string         `json:"error"`
	Kind  exception.Kind `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("API request failed: %v", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: exception.KindOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("Failed to encode API response: %v", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debugf("%s %s -> %d (%s, request %s)", r.Method, r.URL.Path, ww.Status(), time.Since(started), middleware.GetReqID(r.Context()))
	})
}
