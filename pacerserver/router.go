/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package pacerserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-apipacer/log"
	"github.com/acronis/go-apipacer/pacer"
	"github.com/acronis/go-apipacer/restapi"
)

// Error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeRequestNotCancellable = "requestNotCancellable"
)

// Error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageRequestNotCancellable = "Request is not pending and cannot be cancelled."
)

// APIBasePath is the path prefix under which the pacer API endpoints are served.
const APIBasePath = "/api/pacer/v1"

func configureRouter(router chi.Router, engine *pacer.Engine, logger log.FieldLogger, opts Opts) {
	// Expose endpoint for Prometheus.
	metricsHandler := opts.MetricsHandler
	if opts.MetricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	router.Method(http.MethodGet, "/healthz", NewHealthCheckHandler(opts.HealthCheck, logger))

	h := &apiHandlers{engine: engine, errorDomain: opts.ErrorDomain, logger: logger}
	router.Route(APIBasePath, func(router chi.Router) {
		router.Get("/stats", h.getStats)
		router.Post("/requests/cancel", h.cancelRequests)
		router.Get("/requests/{requestID}", h.getRequest)
		router.Get("/requests/{requestID}/wait", h.getRequestWaitEstimate)
		router.Post("/requests/{requestID}/cancel", h.cancelRequest)
	})

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound)
		restapi.RespondError(rw, http.StatusNotFound, apiErr, logger)
	})

	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		apiErr := restapi.NewError(opts.ErrorDomain, restapi.ErrCodeMethodNotAllowed, restapi.ErrMessageMethodNotAllowed)
		restapi.RespondError(rw, http.StatusMethodNotAllowed, apiErr, logger)
	})
}

type apiHandlers struct {
	engine      *pacer.Engine
	errorDomain string
	logger      log.FieldLogger
}

// WaitEstimateData is the response body of the wait estimate endpoint.
type WaitEstimateData struct {
	ID                   string  `json:"id"`
	RemainingWaitSeconds float64 `json:"remainingWaitSeconds"`
}

// CancelResultData reports the cancellation outcome for a single request.
type CancelResultData struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// CancelBatchRequestData is the request body of the batch cancel endpoint.
type CancelBatchRequestData struct {
	IDs []string `json:"ids"`
}

// CancelBatchResultData is the response body of the batch cancel endpoint.
type CancelBatchResultData struct {
	Results        []CancelResultData `json:"results"`
	CancelledCount int                `json:"cancelledCount"`
}

func (h *apiHandlers) getStats(rw http.ResponseWriter, _ *http.Request) {
	restapi.RespondJSON(rw, h.engine.GetStats(), h.logger)
}

func (h *apiHandlers) getRequest(rw http.ResponseWriter, r *http.Request) {
	rec, found := h.engine.GetRecord(chi.URLParam(r, "requestID"))
	if !found {
		h.respondNotFound(rw)
		return
	}
	restapi.RespondJSON(rw, rec, h.logger)
}

func (h *apiHandlers) getRequestWaitEstimate(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	wait := h.engine.RemainingWaitSeconds(id)
	if wait < 0 {
		h.respondNotFound(rw)
		return
	}
	restapi.RespondJSON(rw, WaitEstimateData{ID: id, RemainingWaitSeconds: wait}, h.logger)
}

func (h *apiHandlers) cancelRequest(rw http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")
	if h.engine.Cancel(id) {
		restapi.RespondJSON(rw, CancelResultData{ID: id, Cancelled: true}, h.logger)
		return
	}

	rec, found := h.engine.GetRecord(id)
	if !found {
		h.respondNotFound(rw)
		return
	}
	apiErr := restapi.NewError(h.errorDomain, ErrCodeRequestNotCancellable, ErrMessageRequestNotCancellable)
	apiErr.AddContext("status", string(rec.Status))
	restapi.RespondError(rw, http.StatusConflict, apiErr, h.logger)
}

func (h *apiHandlers) cancelRequests(rw http.ResponseWriter, r *http.Request) {
	var reqData CancelBatchRequestData
	if err := restapi.DecodeRequestJSONStrict(r, &reqData, true); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, h.errorDomain, err, h.logger)
		return
	}

	respData := CancelBatchResultData{Results: make([]CancelResultData, 0, len(reqData.IDs))}
	for _, id := range reqData.IDs {
		cancelled := h.engine.Cancel(id)
		if cancelled {
			respData.CancelledCount++
		}
		respData.Results = append(respData.Results, CancelResultData{ID: id, Cancelled: cancelled})
	}
	restapi.RespondJSON(rw, respData, h.logger)
}

func (h *apiHandlers) respondNotFound(rw http.ResponseWriter) {
	apiErr := restapi.NewError(h.errorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound)
	restapi.RespondError(rw, http.StatusNotFound, apiErr, h.logger)
}
