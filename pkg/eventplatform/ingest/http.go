package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/ResolveSpec/pkg/logger"
)

// requestBody is the wire shape of an ingest POST body (spec §6.1).
type requestBody struct {
	EventID        string          `json:"event_id,omitempty"`
	EventType      string          `json:"event_type"`
	OccurredAt     *time.Time      `json:"occurred_at,omitempty"`
	Source         string          `json:"source"`
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

type responseBody struct {
	EventID             string `json:"event_id,omitempty"`
	Status              string `json:"status,omitempty"`
	IdempotencyReplayed bool   `json:"idempotency_replayed,omitempty"`
}

// Handler adapts Service to net/http.
type Handler struct {
	svc *Service
}

// NewHandler wraps svc for mounting on a router.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ServeHTTP implements spec §6.1: POST a JSON envelope, with
// Idempotency-Key and X-Correlation-Id headers taking precedence over
// the matching body fields.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("ingest: panic handling request: %v", rec)
			writeJSON(w, http.StatusInternalServerError, nil)
		}
	}()

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"outcome": OutcomeValidationProblem,
			"errors":  map[string]string{"body": "invalid JSON"},
		})
		return
	}

	req := Normalize(body, r.Header)

	result, err := h.svc.Ingest(r.Context(), req)
	if err != nil {
		logger.Error("ingest: %v", err)
	}

	switch result.Outcome {
	case OutcomeAccepted:
		writeJSON(w, http.StatusAccepted, responseBody{
			EventID: result.EventID.String(),
			Status:  string(result.Status),
		})
	case OutcomeOK:
		writeJSON(w, http.StatusOK, responseBody{
			EventID:             result.EventID.String(),
			Status:              string(result.Status),
			IdempotencyReplayed: result.IdempotencyReplayed,
		})
	case OutcomeValidationProblem:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"outcome": result.Outcome,
			"errors":  result.ValidationErrors,
		})
	case OutcomeConflict:
		writeJSON(w, http.StatusConflict, nil)
	default:
		writeJSON(w, http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("ingest: failed to encode response: %v", err)
	}
}

// Normalize applies the body/header precedence rules of spec §4.1:
// Idempotency-Key header wins over the body field when both are
// present and non-blank; X-Correlation-Id header wins when parseable,
// else the body value is used, else a fresh id is generated.
func Normalize(body requestBody, header http.Header) Request {
	req := Request{
		TenantID:   body.TenantID,
		EventType:  body.EventType,
		Source:     body.Source,
		Payload:    body.Payload,
		OccurredAt: time.Now().UTC(),
	}
	if body.OccurredAt != nil {
		req.OccurredAt = *body.OccurredAt
	}

	if body.EventID != "" {
		if id, err := uuid.Parse(body.EventID); err == nil {
			req.EventID = id
		}
	}

	idempotencyKey := body.IdempotencyKey
	if hk := header.Get("Idempotency-Key"); hk != "" {
		idempotencyKey = &hk
	}
	req.IdempotencyKey = idempotencyKey

	correlationID := uuid.Nil
	if hc := header.Get("X-Correlation-Id"); hc != "" {
		if id, err := uuid.Parse(hc); err == nil {
			correlationID = id
		}
	}
	if correlationID == uuid.Nil && body.CorrelationID != "" {
		if id, err := uuid.Parse(body.CorrelationID); err == nil {
			correlationID = id
		}
	}
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	req.CorrelationID = correlationID

	return req
}
