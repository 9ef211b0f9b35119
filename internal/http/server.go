package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ymorita/restrack/internal/log"
	"github.com/ymorita/restrack/pkg/service"
)

// Services bundles what the HTTP layer exposes.
type Services struct {
	Workflow   *service.TaskWorkflowService
	Dependency *service.DependencyService
	Schedule   *service.ScheduleService
	Timer      *service.TimerService
}

// NewHandler builds the route table.
func NewHandler(svc Services) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)

	mux.HandleFunc("GET /tasks/{id}/dependencies", getDependenciesHTTP(svc.Workflow))
	mux.HandleFunc("POST /tasks/{id}/dependencies", addDependencyHTTP(svc.Workflow))
	mux.HandleFunc("DELETE /tasks/{id}/dependencies/{depID}", removeDependencyHTTP(svc.Workflow))

	mux.HandleFunc("POST /tasks/{id}/breakdown", breakdownHTTP(svc.Workflow))
	mux.HandleFunc("POST /tasks/merge", mergeHTTP(svc.Workflow))
	mux.HandleFunc("POST /tasks/bulk", bulkCreateHTTP(svc.Workflow))

	mux.HandleFunc("POST /schedule/generate", generateScheduleHTTP(svc.Schedule))

	mux.HandleFunc("POST /timer/start", startTimerHTTP(svc.Timer))
	mux.HandleFunc("POST /timer/stop", stopTimerHTTP(svc.Timer))
	mux.HandleFunc("GET /timer/status", timerStatusHTTP(svc.Timer))
	return mux
}

// StartServer blocks serving the API on the given port.
func StartServer(port string, svc Services) error {
	log.GetLogger().Infof("Starting restrack server on :%s", port)
	return http.ListenAndServe(":"+port, NewHandler(svc))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "restrack server is running")
}

func getDependenciesHTTP(svc *service.TaskWorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		view, err := svc.GetDependencies(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func addDependencyHTTP(svc *service.TaskWorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var body struct {
			DependsOnTaskID int64 `json:"depends_on_task_id"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := svc.AddDependency(id, body.DependsOnTaskID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{
			"task_id":            id,
			"depends_on_task_id": body.DependsOnTaskID,
		})
	}
}

func removeDependencyHTTP(svc *service.TaskWorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		depID, ok := pathID(w, r, "depID")
		if !ok {
			return
		}
		if err := svc.RemoveDependency(id, depID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func breakdownHTTP(svc *service.TaskWorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req service.BreakdownRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.TaskID = id
		result, err := svc.Breakdown(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func mergeHTTP(svc *service.TaskWorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.MergeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := svc.Merge(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func bulkCreateHTTP(svc *service.TaskWorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.BulkCreateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := svc.BulkCreate(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

func generateScheduleHTTP(svc *service.ScheduleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.GenerateWeeklyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Preferences.DailyHours == (service.DailyHours{}) {
			req.Preferences.DailyHours = service.DefaultDailyHours()
		}
		resp, err := svc.GenerateWeekly(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func startTimerHTTP(svc *service.TimerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.StartTimerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		entry, err := svc.Start(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func stopTimerHTTP(svc *service.TimerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := svc.Stop()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func timerStatusHTTP(svc *service.TimerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.Status()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s parameter", name), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.GetLogger().Errorf("Failed to decode request body: %v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Time  string `json:"time"`
}

// writeError maps domain errors to HTTP status codes. Validation failures are
// 422 except the timer conflict, which is 409. Reasoning service failures are
// 503 when the service is not configured and 502 when the upstream misbehaves.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := ""

	var (
		notFound    *service.NotFoundError
		validation  *service.ValidationError
		conflict    *service.TimerConflictError
		unavailable *service.ServiceUnavailableError
		upstream    *service.UpstreamError
		exhausted   *service.RetriesExhaustedError
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &validation):
		status = http.StatusUnprocessableEntity
		kind = string(validation.Kind)
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &unavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &upstream):
		status = http.StatusBadGateway
	case errors.As(err, &exhausted):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.GetLogger().Errorf("Internal error: %v", err)
	} else {
		log.GetLogger().Warnf("Request failed (%d): %v", status, err)
	}
	writeJSON(w, status, errorBody{
		Error: err.Error(),
		Kind:  kind,
		Time:  time.Now().Format(time.RFC3339),
	})
}
