package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/lock"
)

// Error codes for failures that do not carry a ledger.ValidationError code.
const (
	CodeBadRequest       = "bad_request"
	CodeNotFound         = "not_found"
	CodeFolderPosting    = "folder_posting"
	CodeCycle            = "cycle"
	CodeImbalance        = "imbalance"
	CodeConcurrency      = "concurrency_conflict"
	CodeInternal         = "internal"
	CodeValidationFailed = "validation_failed"
)

// statusFor maps a ledger error kind to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Code
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ledger.ErrFolderPosting):
		return http.StatusUnprocessableEntity, CodeFolderPosting
	case errors.Is(err, ledger.ErrImbalance):
		return http.StatusUnprocessableEntity, CodeImbalance
	case errors.Is(err, ledger.ErrCycle):
		return http.StatusConflict, CodeCycle
	case errors.Is(err, ledger.ErrConcurrencyConflict), errors.Is(err, lock.ErrLockNotAcquired):
		return http.StatusConflict, CodeConcurrency
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeLedgerError writes err with the status its kind maps to. Internal
// failures are logged and their details withheld from the client.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg(message)
		writeError(w, status, code, message, nil)
		return
	}
	writeError(w, status, code, message, err)
}

// writeValidationError reports DTO tag failures field by field.
func writeValidationError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body", err)
		return
	}
	fields := make([]FieldErrorDTO, len(fieldErrs))
	for i, fe := range fieldErrs {
		fields[i] = FieldErrorDTO{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()}
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Request validation failed",
		Code:    CodeValidationFailed,
		Details: err.Error(),
		Fields:  fields,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
