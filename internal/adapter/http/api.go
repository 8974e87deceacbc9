package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/outbreak-tracker/internal/domain"
	"github.com/couchcryptid/outbreak-tracker/internal/tracker"
)

// maxBodyBytes bounds selection request bodies.
const maxBodyBytes = 1 << 10

// Tracker is the subset of *tracker.Controller the API serves.
type Tracker interface {
	View() tracker.View
	ChangeRegion(ctx context.Context, code string) error
	ChangeMetric(metric domain.MetricType) error
	Chart(ctx context.Context) (tracker.Chart, error)
	CheckReadiness(ctx context.Context) error
}

type viewResponse struct {
	Selection domain.Selection       `json:"selection"`
	Aggregate domain.AggregateRecord `json:"aggregate"`
	Cards     []domain.Card          `json:"cards"`
	FetchedAt time.Time              `json:"fetched_at"`
	Faults    []tracker.Fault        `json:"faults"`
}

type regionsResponse struct {
	Selected string                `json:"selected"`
	Regions  []domain.RegionOption `json:"regions"`
}

type tableResponse struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Rows      []domain.TableRow `json:"rows"`
}

type mapResponse struct {
	Metric   domain.MetricType  `json:"metric"`
	Viewport domain.Viewport    `json:"viewport"`
	Markers  []domain.MapMarker `json:"markers"`
}

type regionRequest struct {
	Code string `json:"code"`
}

type metricRequest struct {
	Metric string `json:"metric"`
}

type apiHandler struct {
	tracker Tracker
	logger  *slog.Logger
}

func (h *apiHandler) handleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newViewResponse(h.tracker.View()))
}

func (h *apiHandler) handleRegions(w http.ResponseWriter, _ *http.Request) {
	v := h.tracker.View()
	writeJSON(w, http.StatusOK, regionsResponse{
		Selected: v.Selection.RegionCode,
		Regions:  domain.WithWorldwide(v.Dataset.Catalog),
	})
}

func (h *apiHandler) handleTable(w http.ResponseWriter, _ *http.Request) {
	v := h.tracker.View()
	writeJSON(w, http.StatusOK, tableResponse{
		FetchedAt: v.Dataset.FetchedAt,
		Rows:      domain.BuildTable(v.Dataset.Ranked),
	})
}

func (h *apiHandler) handleMap(w http.ResponseWriter, _ *http.Request) {
	v := h.tracker.View()
	writeJSON(w, http.StatusOK, mapResponse{
		Metric:   v.Selection.MetricType,
		Viewport: v.Selection.Viewport,
		Markers:  domain.BuildMarkers(v.Dataset.Regions, v.Selection.MetricType),
	})
}

func (h *apiHandler) handleChart(w http.ResponseWriter, r *http.Request) {
	chart, err := h.tracker.Chart(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (h *apiHandler) handleSelectRegion(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if err := h.tracker.ChangeRegion(r.Context(), req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(h.tracker.View()))
}

func (h *apiHandler) handleSelectMetric(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if err := h.tracker.ChangeMetric(domain.MetricType(req.Metric)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(h.tracker.View()))
}

func newViewResponse(v tracker.View) viewResponse {
	return viewResponse{
		Selection: v.Selection,
		Aggregate: v.Aggregate,
		Cards:     domain.BuildCards(v.Aggregate, v.Selection.MetricType),
		FetchedAt: v.Dataset.FetchedAt,
		Faults:    v.Faults,
	}
}

// writeError maps tracker errors to status codes. Anything unrecognized
// is an upstream fetch failure.
func (h *apiHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, tracker.ErrUnknownRegion):
		status = http.StatusNotFound
	case errors.Is(err, tracker.ErrInvalidMetric):
		status = http.StatusBadRequest
	case errors.Is(err, tracker.ErrStaleResponse):
		status = http.StatusConflict
	case errors.Is(err, tracker.ErrNoHistory):
		status = http.StatusNotImplemented
	default:
		h.logger.Warn("request failed upstream", "error", err)
	}
	writeJSON(w, status, errorBody(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
