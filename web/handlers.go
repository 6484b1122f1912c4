package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"livefeed-service/pkg/business"
	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
	"livefeed-service/pkg/processing"
)

const (
	// IdempotencyKeyHeader lets an operator safely resubmit the same form post.
	IdempotencyKeyHeader = "Idempotency-Key"

	defaultEventsLimit = 50
	maxEventsLimit     = 500
	maxBodyBytes       = 1 << 20
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type lineupRequest struct {
	Active []models.Player `json:"active"`
	Bench  []models.Player `json:"bench"`
}

type eventResponse struct {
	Match    *models.Match     `json:"match"`
	Event    *models.LiveEvent `json:"event"`
	Replayed bool              `json:"replayed"`
}

// handleCreateMatch 创建比赛
func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var input business.MatchInput
	if err := decodeBody(w, r, &input); err != nil {
		s.writeError(w, r, err)
		return
	}

	match, err := s.matches.CreateMatch(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, match)
}

// handleListMatches 获取比赛列表
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := business.MatchFilter{}
	for _, status := range strings.Split(query.Get("status"), ",") {
		if status = strings.TrimSpace(status); status != "" {
			filter.Status = append(filter.Status, models.MatchStatus(strings.ToUpper(status)))
		}
	}

	var err error
	if filter.Limit, err = queryInt(query.Get("limit"), "limit", 0); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(query.Get("offset"), "offset", 0); err != nil {
		s.writeError(w, r, err)
		return
	}

	matches, err := s.matches.ListMatches(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if matches == nil {
		matches = []*models.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
		"offset":  filter.Offset,
	})
}

// handleGetMatch 获取比赛
func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	match, err := s.matches.GetMatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

// handleDeleteMatch 删除比赛
func (s *Server) handleDeleteMatch(w http.ResponseWriter, r *http.Request) {
	if err := s.matches.DeleteMatch(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetLineup 设置阵容
func (s *Server) handleSetLineup(w http.ResponseWriter, r *http.Request) {
	var req lineupRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	match, err := s.matches.SetLineup(r.Context(), mux.Vars(r)["id"], req.Active, req.Bench)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

func (s *Server) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.live.StartMatch(r.Context(), mux.Vars(r)["id"], requestID(r))
	s.writeResult(w, r, result, err)
}

func (s *Server) handleEndMatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.live.EndMatch(r.Context(), mux.Vars(r)["id"], requestID(r))
	s.writeResult(w, r, result, err)
}

// handlePostEvent 提交比赛事件
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var sub models.Submission
	if err := decodeBody(w, r, &sub); err != nil {
		s.writeError(w, r, err)
		return
	}
	if kind, ok := models.ParseEventKind(string(sub.Kind)); ok {
		sub.Kind = kind
	}
	sub.RequestID = requestID(r)

	result, err := s.live.PostEvent(r.Context(), mux.Vars(r)["id"], &sub)
	s.writeResult(w, r, result, err)
}

// handleGetEvents 获取事件日志 (newest first)
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit", defaultEventsLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := s.live.GetEvents(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.LiveEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"limit":  limit,
	})
}

// writeResult answers a pipeline submission. A replayed request returns the
// originally committed event with 200 instead of 201.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, result *processing.UpdateResult, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, eventResponse{
		Match:    result.Match,
		Event:    result.Event,
		Replayed: result.Replayed,
	})
}

// writeError maps the error kind to a status code and a message the operator
// can act on. Internal detail stays in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		s.logger.Debug("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}

	resp := errorResponse{
		Error:   common.Category(err),
		Message: common.UserMessage(err),
	}
	var verr *common.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, code, resp)
}

func statusFor(err error) int {
	switch common.Category(err) {
	case "validation":
		return http.StatusBadRequest
	case "generation":
		return http.StatusBadGateway
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	case "invalid_transition":
		return http.StatusUnprocessableEntity
	case "connection":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return common.NewValidationError("body", "is empty")
		}
		return common.NewValidationError("body", "is not valid JSON")
	}
	return nil
}

func queryInt(raw, field string, defaultValue int) (int, error) {
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.NewValidationError(field, "must be a non-negative integer")
	}
	return n, nil
}

func requestID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
}
