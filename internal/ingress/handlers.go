package ingress

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"school-attendance-bridge/internal/errs"
)

// writeJSON encodes body as the JSON response. writeError wraps a failure
// in a small JSON envelope (error, message, timestamp) rather than a bare
// status code, so failed calls always get a machine-readable body.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":     http.StatusText(status),
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeOperationalError maps the sentinel/typed errors from internal/errs
// onto HTTP status codes.
func writeOperationalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrDeviceNotFound), errors.Is(err, errs.ErrStudentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrDeviceOffline):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errs.ErrEnrollmentInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func mustTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant, ok := tenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no tenant in request context")
		return "", false
	}
	return tenant, true
}

type startEnrollmentRequest struct {
	StudentID   string `json:"student_id"`
	FingerIndex int    `json:"finger_index"`
}

func (s *Server) handleStartEnrollment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	deviceID := mux.Vars(r)["device_id"]

	var req startEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StudentID == "" {
		writeError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	session, err := s.runtime.StartEnrollment(r.Context(), tenant, req.StudentID, deviceID, req.FingerIndex)
	if err != nil {
		writeOperationalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (s *Server) handleCancelEnrollment(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	sessionUUID := mux.Vars(r)["session_uuid"]

	session, err := s.runtime.CancelEnrollment(r.Context(), tenant, sessionUUID)
	if err != nil {
		writeOperationalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListEnrolledFingers(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	fingers, err := s.runtime.ListEnrolledFingers(r.Context(), tenant, vars["device_id"], vars["student_id"])
	if err != nil {
		writeOperationalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fingers": fingers})
}

func (s *Server) handleDeleteFingerprint(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	fingerIndex, err := strconv.Atoi(vars["finger_index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "finger_index must be an integer")
		return
	}

	if err := s.runtime.DeleteFingerprint(r.Context(), tenant, vars["device_id"], vars["student_id"], fingerIndex); err != nil {
		writeOperationalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncStudentToDevice(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	if err := s.runtime.SyncStudentToDevice(r.Context(), tenant, vars["student_id"], vars["device_id"]); err != nil {
		writeOperationalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckStudentOnDevice(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	present, err := s.runtime.CheckStudentOnDevice(r.Context(), tenant, vars["student_id"], vars["device_id"])
	if err != nil {
		writeOperationalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"present": present})
}

func (s *Server) handleGetDeviceInfo(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	deviceID := mux.Vars(r)["device_id"]

	info, err := s.runtime.GetDeviceInfo(r.Context(), tenant, deviceID)
	if err != nil {
		writeOperationalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// defaultTestTimeout bounds handleTestDevice's probe when the caller does
// not specify one.
const defaultTestTimeout = 10 * time.Second

func (s *Server) handleTestDevice(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	deviceID := mux.Vars(r)["device_id"]

	result, err := s.runtime.TestDevice(r.Context(), tenant, deviceID, defaultTestTimeout)
	if err != nil {
		writeOperationalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIngestAttendance(w http.ResponseWriter, r *http.Request) {
	tenant, ok := mustTenant(w, r)
	if !ok {
		return
	}
	deviceID := mux.Vars(r)["device_id"]

	result, err := s.runtime.IngestAttendanceForDevice(r.Context(), tenant, deviceID)
	if err != nil {
		writeOperationalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
