package analysis

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Response envelope shared with the upstream inference contract:
// { success, data } on success, { success, error } on failure.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, violations []string) {
	writeJSON(w, status, envelope{Success: false, Error: &apiError{Message: message, Violations: violations}})
}

// CreateAnalysis accepts the multipart intake form (repeated "images" file
// parts plus the patient fields) and starts an analysis run. The pipeline
// continues in the background; the response carries the run id to poll.
func (h *Handler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	// Parse limit is per-request memory, not the per-image cap; oversized
	// images must reach the validator so they are reported as violations.
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form", nil)
		return
	}

	patient := patientFromForm(r)

	var images []ImageInput
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["images"] {
			file, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read image "+header.Filename, nil)
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read image "+header.Filename, nil)
				return
			}
			images = append(images, ImageInput{
				Filename: header.Filename,
				MIMEType: strings.TrimSpace(header.Header.Get("Content-Type")),
				Size:     header.Size,
				Data:     data,
			})
		}
	}

	run, err := h.svc.StartAnalysis(r.Context(), patient, images)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "validation failed", verr.Violations)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start analysis", nil)
		return
	}

	writeData(w, http.StatusAccepted, map[string]interface{}{
		"analysisId": run.ID.String(),
		"state":      run.State,
	})
}

func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		respondLookupError(w, err)
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"analysisId": run.ID.String(),
		"state":      run.State,
		"progress":   run.Progress,
		"simulated":  run.Simulated,
		"notice":     run.Notice,
		"error":      run.Error,
	})
}

func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	results, err := h.svc.GetResults(r.Context(), id)
	if err != nil {
		respondLookupError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.GetStats(r.Context(), id)
	if err != nil {
		respondLookupError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// DeleteAnalysis cancels an in-flight run and discards all of its state.
func (h *Handler) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteRun(r.Context(), id); err != nil {
		respondLookupError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"analysisId": id.String(), "state": "deleted"})
}

// HealthCheck reports service liveness plus remote inference reachability.
// An unreachable remote is "degraded", not unhealthy: the fallback engine
// still guarantees results.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	inference := "reachable"
	if err := h.svc.CheckHealth(r.Context()); err != nil {
		status = "degraded"
		inference = "unreachable"
	}
	writeData(w, http.StatusOK, map[string]string{
		"status":    status,
		"inference": inference,
	})
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func respondLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		writeError(w, http.StatusNotFound, "analysis run not found", nil)
	case errors.Is(err, ErrRunNotComplete):
		writeError(w, http.StatusConflict, "analysis run is not complete yet", nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func patientFromForm(r *http.Request) PatientContext {
	age, _ := strconv.Atoi(r.FormValue("age"))
	return PatientContext{
		Name:               r.FormValue("name"),
		PatientID:          r.FormValue("patientId"),
		DateOfBirth:        r.FormValue("dateOfBirth"),
		Age:                age,
		Sex:                r.FormValue("sex"),
		ClinicalHistory:    r.FormValue("clinicalHistory"),
		SuspectedCondition: r.FormValue("suspectedCondition"),
		ExamDate:           r.FormValue("examDate"),
		View:               r.FormValue("view"),
		ReferringPhysician: r.FormValue("referringPhysician"),
	}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/analyses", h.CreateAnalysis)
	r.Get("/analyses/{id}", h.GetAnalysis)
	r.Get("/analyses/{id}/results", h.GetResults)
	r.Get("/analyses/{id}/stats", h.GetStats)
	r.Delete("/analyses/{id}", h.DeleteAnalysis)
}
