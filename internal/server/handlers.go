package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"alertcpl/internal/service"
	"alertcpl/internal/storage"
)

// RunAcknowledgement is the fixed body returned by the manual trigger.
const RunAcknowledgement = "CPL check completed"

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "AlertCPL backend running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "AlertCPL Running"})
}

type statusResponse struct {
	service.Status
	Summary *service.Summary `json:"summary,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.runner.Status()
	resp := statusResponse{Status: st}
	if st.LastResult != nil {
		sum := st.LastResult.Summary()
		resp.Summary = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	if !s.storeReady(w) {
		return
	}
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		s.internalError(w, err, "list accounts")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accounts))
}

type thresholdRequest struct {
	CPLThreshold *decimal.Decimal `json:"cpl_threshold"`
}

func (s *Server) handleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	if !s.storeReady(w) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CPLThreshold == nil || !req.CPLThreshold.IsPositive() {
		writeError(w, http.StatusBadRequest, "cpl_threshold must be a positive number")
		return
	}

	if err := s.store.UpdateThreshold(r.Context(), id, *req.CPLThreshold); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.internalError(w, err, "update threshold")
		return
	}

	account, err := s.store.GetAccount(r.Context(), id)
	if err != nil {
		s.internalError(w, err, "reload account")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleListCPLLogs(w http.ResponseWriter, r *http.Request) {
	if !s.storeReady(w) {
		return
	}
	filter, ok := parseLogFilter(w, r)
	if !ok {
		return
	}
	logs, err := s.store.ListCPLLogs(r.Context(), filter)
	if err != nil {
		s.internalError(w, err, "list cpl logs")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(logs))
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if !s.storeReady(w) {
		return
	}
	filter, ok := parseLogFilter(w, r)
	if !ok {
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.internalError(w, err, "list alerts")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(alerts))
}

// handleRun runs a cycle synchronously. The reply does not reflect per-account
// outcomes; those are visible in logs, /status and /metrics.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	res := s.runner.RunCycle(r.Context())
	s.logger.Info().
		Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Msg("manual trigger handled")
	writeJSON(w, http.StatusOK, map[string]string{"message": RunAcknowledgement})
}

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(SecretHeader)
		if s.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("manual trigger rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseLogFilter(w http.ResponseWriter, r *http.Request) (storage.LogFilter, bool) {
	var filter storage.LogFilter
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err == nil {
			filter.Limit = limit
		}
	}
	if raw := q.Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid account_id")
			return filter, false
		}
		filter.AccountID = id
	}
	filter.Limit = filter.NormalizedLimit()
	return filter, true
}

func (s *Server) storeReady(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, err error, op string) {
	s.logger.Error().Err(err).Str("op", op).Msg("api request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
