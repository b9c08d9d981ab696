package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bc-dunia/httpdrill/internal/runmanager"
	"github.com/bc-dunia/httpdrill/internal/store"
	"github.com/bc-dunia/httpdrill/internal/streamhub"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	maxRequestBodyBytes  = 10 * 1024 * 1024
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	snap := s.svc.HostSnapshot()
	s.writeJSON(w, http.StatusOK, &HealthResponse{
		Status: "ok", CPUPercent: snap.CPUPercent, MemTotal: snap.MemTotal,
		MemUsed: snap.MemUsed, MemAvailable: snap.MemAvailable,
		LoadAvg1: snap.LoadAvg1, LoadAvg5: snap.LoadAvg5, LoadAvg15: snap.LoadAvg15,
	})
}

func (s *Server) handleIsRunning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	s.writeJSON(w, http.StatusOK, &IsRunningResponse{Running: s.svc.IsRunning()})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}
	if err := s.svc.StopRun(); err != nil {
		s.writeRunManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// routeRunsRoot handles GET/POST /runs: list-recent on GET, ad-hoc start
// on POST.
func (s *Server) routeRunsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRuns(w, r)
	case http.MethodPost:
		s.handleStartAdHocRun(w, r)
	default:
		s.writeMethodNotAllowed(w, r.Method, "GET, POST")
	}
}

// routeRuns handles /runs/{id} and /runs/{id}/timeline.
func (s *Server) routeRuns(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/runs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, &ErrorResponse{
			ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeValidationFailed,
			ErrorMessage: "run id must be an integer",
		})
		return
	}

	if len(parts) == 1 {
		s.handleRunByID(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "timeline" {
		s.handleRunTimeline(w, r, id)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		run, ok, err := s.svc.GetRun(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		if !ok {
			s.writeError(w, http.StatusNotFound, notFoundError("run"))
			return
		}
		s.writeJSON(w, http.StatusOK, run)
	case http.MethodDelete:
		if err := s.svc.DeleteRun(r.Context(), id); err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeMethodNotAllowed(w, r.Method, "GET, DELETE")
	}
}

func (s *Server) handleRunTimeline(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	timeline, ok, err := s.svc.GetRunWithTimeline(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, internalError(err))
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, notFoundError("run"))
		return
	}
	s.writeJSON(w, http.StatusOK, timeline)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SearchFilter{Status: store.RunStatus(q.Get("status"))}
	if v := q.Get("endpointId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.EndpointID = &id
		}
	}
	if v := q.Get("projectId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.ProjectID = &id
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	runs, err := s.svc.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, internalError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleStartAdHocRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(limitedBody(w, r)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
		return
	}

	runReq := store.RunRequest{
		URL: req.URL, Method: req.Method, Users: req.Users, Requests: req.Requests,
		DurationSeconds: req.DurationSeconds, Body: req.Body, ContentType: req.ContentType,
		Headers: req.Headers, InsecureTLS: req.InsecureTLS, Auth: authSpecFromDTO(req.Auth),
	}

	token, err := s.svc.StartAdHocRun(r.Context(), runReq)
	if err != nil {
		s.writeRunManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &StartRunResponse{RunToken: token})
}

func (s *Server) handleTestAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}
	var req TestAuthRequest
	if err := json.NewDecoder(limitedBody(w, r)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
		return
	}

	token, err := s.svc.TestAuth(r.Context(), *authSpecFromDTO(&req.Auth), req.Insecure)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &TestAuthResponse{OK: false, Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, &TestAuthResponse{OK: true, Token: token})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	var projectID, endpointID *int64
	if v := r.URL.Query().Get("projectId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			projectID = &id
		}
	}
	if v := r.URL.Query().Get("endpointId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			endpointID = &id
		}
	}
	stats, err := s.svc.RunStatistics(r.Context(), projectID, endpointID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, internalError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// -- projects & endpoints --

func (s *Server) routeProjectsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.svc.ListProjects(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		s.writeJSON(w, http.StatusOK, projects)
	case http.MethodPost:
		var dto store.ProjectDTO
		if err := json.NewDecoder(limitedBody(w, r)).Decode(&dto); err != nil {
			s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
			return
		}
		proj, err := s.svc.CreateProject(r.Context(), dto)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		s.writeJSON(w, http.StatusCreated, proj)
	default:
		s.writeMethodNotAllowed(w, r.Method, "GET, POST")
	}
}

// routeProjects handles /projects/{id}, /projects/{id}/auth,
// /projects/{id}/endpoints, /projects/{id}/export, and /projects/import.
func (s *Server) routeProjects(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/projects/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if parts[0] == "import" {
		s.handleImportProject(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, &ErrorResponse{
			ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeValidationFailed,
			ErrorMessage: "project id must be an integer",
		})
		return
	}

	if len(parts) == 1 {
		s.handleProjectByID(w, r, id)
		return
	}

	switch parts[1] {
	case "auth":
		s.handleProjectAuth(w, r, id)
	case "endpoints":
		s.handleProjectEndpoints(w, r, id)
	case "export":
		s.handleExportProject(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		proj, ok, err := s.svc.GetProject(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		if !ok {
			s.writeError(w, http.StatusNotFound, notFoundError("project"))
			return
		}
		s.writeJSON(w, http.StatusOK, proj)
	case http.MethodPut:
		var dto store.ProjectDTO
		if err := json.NewDecoder(limitedBody(w, r)).Decode(&dto); err != nil {
			s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
			return
		}
		if err := s.svc.UpdateProject(r.Context(), id, dto); err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.svc.DeleteProject(r.Context(), id); err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeMethodNotAllowed(w, r.Method, "GET, PUT, DELETE")
	}
}

func (s *Server) handleProjectAuth(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodPut:
		var dto AuthSpecDTO
		if err := json.NewDecoder(limitedBody(w, r)).Decode(&dto); err != nil {
			s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
			return
		}
		if err := s.svc.SetProjectAuth(r.Context(), id, *authSpecFromDTO(&dto)); err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.svc.ClearProjectAuth(r.Context(), id); err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeMethodNotAllowed(w, r.Method, "PUT, DELETE")
	}
}

func (s *Server) handleProjectEndpoints(w http.ResponseWriter, r *http.Request, projectID int64) {
	switch r.Method {
	case http.MethodGet:
		eps, err := s.svc.ListEndpoints(r.Context(), projectID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		s.writeJSON(w, http.StatusOK, eps)
	case http.MethodPost:
		var dto store.EndpointDTO
		if err := json.NewDecoder(limitedBody(w, r)).Decode(&dto); err != nil {
			s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
			return
		}
		ep, err := s.svc.CreateEndpoint(r.Context(), projectID, dto)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		s.writeJSON(w, http.StatusCreated, ep)
	default:
		s.writeMethodNotAllowed(w, r.Method, "GET, POST")
	}
}

func (s *Server) handleExportProject(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	payload, err := s.svc.ExportProject(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, internalError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleImportProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}
	var payload store.ExportPayload
	if err := json.NewDecoder(limitedBody(w, r)).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
		return
	}
	proj, err := s.svc.ImportProject(r.Context(), payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, &ErrorResponse{
			ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeValidationFailed,
			ErrorMessage: err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusCreated, proj)
}

// routeEndpoints handles /endpoints/{id} and /endpoints/{id}/runs.
func (s *Server) routeEndpoints(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/endpoints/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, &ErrorResponse{
			ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeValidationFailed,
			ErrorMessage: "endpoint id must be an integer",
		})
		return
	}

	if len(parts) == 2 && parts[1] == "runs" {
		s.handleStartEndpointRun(w, r, id)
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		ep, ok, err := s.svc.GetEndpoint(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		if !ok {
			s.writeError(w, http.StatusNotFound, notFoundError("endpoint"))
			return
		}
		s.writeJSON(w, http.StatusOK, ep)
	case http.MethodPut:
		var dto store.EndpointDTO
		if err := json.NewDecoder(limitedBody(w, r)).Decode(&dto); err != nil {
			s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
			return
		}
		if err := s.svc.UpdateEndpoint(r.Context(), id, dto); err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.svc.DeleteEndpoint(r.Context(), id); err != nil {
			s.writeError(w, http.StatusInternalServerError, internalError(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeMethodNotAllowed(w, r.Method, "GET, PUT, DELETE")
	}
}

func (s *Server) handleStartEndpointRun(w http.ResponseWriter, r *http.Request, endpointID int64) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, "POST")
		return
	}
	var body struct {
		Users *int `json:"users,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(limitedBody(w, r)).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, invalidJSONError(err))
			return
		}
	}

	token, err := s.svc.StartEndpointRun(r.Context(), endpointID, body.Users)
	if err != nil {
		s.writeRunManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &StartRunResponse{RunToken: token})
}

// -- SSE --

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, "GET")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, internalError(fmt.Errorf("streaming unsupported")))
		return
	}

	sub := s.svc.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev streamhub.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// -- helpers --

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, errResp *ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errResp)
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter, method, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, &ErrorResponse{
		ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeMethodNotAllowed,
		ErrorMessage: "method not allowed",
		Details:      map[string]any{"method": method, "allowed": allowed},
	})
}

func (s *Server) writeRunManagerError(w http.ResponseWriter, err error) {
	rmErr, ok := err.(*runmanager.RunManagerError)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, internalError(err))
		return
	}
	switch rmErr.Kind {
	case runmanager.ErrKindValidation:
		s.writeError(w, http.StatusBadRequest, &ErrorResponse{
			ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeValidationFailed, ErrorMessage: rmErr.Message,
		})
	case runmanager.ErrKindRunInProgress:
		s.writeError(w, http.StatusConflict, &ErrorResponse{
			ErrorType: ErrorTypeConflict, ErrorCode: ErrorCodeRunInProgress, ErrorMessage: rmErr.Message,
			Details: map[string]any{"currentRunToken": rmErr.RunID},
		})
	case runmanager.ErrKindNotFound:
		s.writeError(w, http.StatusNotFound, &ErrorResponse{
			ErrorType: ErrorTypeNotFound, ErrorCode: ErrorCodeNotFound, ErrorMessage: rmErr.Message,
		})
	case runmanager.ErrKindAuthFailed:
		s.writeError(w, http.StatusBadGateway, &ErrorResponse{
			ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeAuthFailed, ErrorMessage: rmErr.Message,
			Retryable: true,
		})
	default:
		s.writeError(w, http.StatusInternalServerError, internalError(rmErr))
	}
}

func internalError(err error) *ErrorResponse {
	return &ErrorResponse{ErrorType: ErrorTypeInternal, ErrorCode: ErrorCodeInternalError, ErrorMessage: err.Error()}
}

func notFoundError(kind string) *ErrorResponse {
	return &ErrorResponse{ErrorType: ErrorTypeNotFound, ErrorCode: ErrorCodeNotFound, ErrorMessage: kind + " not found"}
}

func invalidJSONError(err error) *ErrorResponse {
	return &ErrorResponse{
		ErrorType: ErrorTypeInvalidArgument, ErrorCode: ErrorCodeValidationFailed,
		ErrorMessage: "invalid JSON request body: " + err.Error(),
	}
}

func limitedBody(w http.ResponseWriter, r *http.Request) io.Reader {
	return http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
}

func authSpecFromDTO(dto *AuthSpecDTO) *store.AuthSpec {
	if dto == nil || dto.URL == "" {
		return nil
	}
	return &store.AuthSpec{
		URL: dto.URL, Method: dto.Method, ContentType: dto.ContentType, Body: dto.Body,
		Headers: dto.Headers, TokenPath: dto.TokenPath, HeaderName: dto.HeaderName,
		HeaderPrefix: dto.HeaderPrefix,
	}
}
