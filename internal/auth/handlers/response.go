package handlers

import (
	"encoding/json"
	"net/http"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/service"
	"go.uber.org/zap"
)

// Responder writes every API body through the response envelope, so
// successes and failures carry the same padding and checksum fields.
type Responder struct {
	envelope *service.Envelope
	logger   *zap.Logger
}

func NewResponder(envelope *service.Envelope, logger *zap.Logger) *Responder {
	return &Responder{envelope: envelope, logger: logger}
}

type errorBody struct {
	Success bool        `json:"success"`
	Code    apierr.Code `json:"code"`
	Message string      `json:"message"`
}

// JSON writes payload with status. payload must encode to a JSON object.
func (rs *Responder) JSON(w http.ResponseWriter, status int, payload any) {
	body := payload
	if rs.envelope != nil {
		sealed, err := rs.envelope.Seal(payload)
		if err != nil {
			rs.logger.Error("Failed to seal response", zap.Error(err))
			status = http.StatusInternalServerError
			sealed = map[string]any{
				"success": false,
				"code":    apierr.CodeSystemError,
				"message": apierr.Message(apierr.CodeSystemError),
			}
		}
		body = sealed
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rs.logger.Debug("Failed to write response", zap.Error(err))
	}
}

// Error maps err to its code and writes the generic message for it. The
// detail of err stays in the server log.
func (rs *Responder) Error(w http.ResponseWriter, err error) {
	code := apierr.CodeOf(err)
	rs.JSON(w, apierr.HTTPStatus(code), errorBody{
		Success: false,
		Code:    code,
		Message: apierr.Message(code),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
