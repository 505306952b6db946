package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	svcerrors "github.com/R3E-Network/settlement_layer/internal/errors"
	"github.com/R3E-Network/settlement_layer/internal/logging"
)

// MaxRequestBody bounds decoded request bodies.
const MaxRequestBody = 1 << 20

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the structured error body.
// Service errors expose their code, message and details; anything else becomes
// an opaque internal error carrying only a correlation id.
func WriteError(w http.ResponseWriter, r *http.Request, log *logging.Logger, err error) {
	se, ok := svcerrors.As(err)
	if !ok {
		se = svcerrors.Internal("unexpected failure", err)
	}

	if se.Kind == svcerrors.KindInternal {
		correlationID := logging.TraceIDFromContext(r.Context())
		if correlationID == "" {
			correlationID = logging.NewTraceID()
		}
		if log != nil {
			log.WithContext(r.Context()).WithError(err).WithField("correlation_id", correlationID).Error("internal error")
		}
		WriteJSON(w, se.HTTPStatus, map[string]interface{}{
			"error":          svcerrors.CodeInternal,
			"correlation_id": correlationID,
		})
		return
	}

	body := map[string]interface{}{"error": se.Code}
	if se.Message != "" {
		body["message"] = se.Message
	}
	for k, v := range se.Details {
		body[k] = v
	}
	WriteJSON(w, se.HTTPStatus, body)
}

// BadRequest writes a validation error.
func BadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, map[string]string{
		"error":   svcerrors.CodeInvalidInput,
		"message": message,
	})
}

// DecodeJSON decodes a bounded JSON request body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return svcerrors.Validation("request body required")
	}
	data, err := ReadAllStrict(r.Body, MaxRequestBody)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return svcerrors.Validation("request body too large")
		}
		return svcerrors.Validation(fmt.Sprintf("read body: %v", err))
	}
	if len(data) == 0 {
		return svcerrors.Validation("request body required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return svcerrors.Validation(fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
