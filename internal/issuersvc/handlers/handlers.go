package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"

	"github.com/cardops/issuer-services/internal/comm"
	"github.com/cardops/issuer-services/internal/issuersvc/service"
	"github.com/cardops/issuer-services/internal/issuersvc/validation"
	"github.com/cardops/issuer-services/internal/models"
)

// Issuer is the issuance surface the HTTP layer depends on.
type Issuer interface {
	IssueCard(ctx context.Context, msg comm.CardRequestMessage) (*service.IssueResult, error)
	Tracking(ctx context.Context, cardRequestID string) ([]*models.TrackingRecord, error)
}

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	issuer    Issuer
}

func NewHandler(issuer Issuer) *Handler {
	return &Handler{issuer: issuer}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	json.NewEncoder(w).Encode(rsp)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rsp := Response{
		Message: "issuer service is running",
		Code:    200,
		Data:    nil,
	}
	json.NewEncoder(w).Encode(rsp)
}

// IssueCardHandler accepts an issuance request, validates it and hands it to
// the pipeline. Processing itself is asynchronous.
func (h *Handler) IssueCardHandler(w http.ResponseWriter, r *http.Request) {
	var msg comm.CardRequestMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.CreateResponse(w, Response{
			Message: "invalid request body",
			Code:    http.StatusBadRequest,
			Error:   err.Error(),
		})
		return
	}

	if violations := validation.Validate(msg); len(violations) > 0 {
		h.CreateResponse(w, Response{
			Message: "validation failed",
			Code:    http.StatusBadRequest,
			Data:    violations,
			Error:   "one or more fields are invalid",
		})
		return
	}

	result, err := h.issuer.IssueCard(r.Context(), msg)
	if err != nil {
		var conflict *service.ConflictError
		if errors.As(err, &conflict) {
			h.CreateResponse(w, Response{
				Message: "card issuance rejected",
				Code:    http.StatusConflict,
				Error:   conflict.Error(),
			})
			return
		}

		log.Errorf("Error [IssuanceService.IssueCard] %s", err)
		h.CreateResponse(w, Response{
			Message: "card issuance failed",
			Code:    http.StatusInternalServerError,
			Error:   "internal error",
		})
		return
	}

	h.CreateResponse(w, Response{
		Message: result.Message,
		Code:    http.StatusAccepted,
		Data:    result,
	})
}

// TrackingHandler returns the status transition trail for a card request.
func (h *Handler) TrackingHandler(w http.ResponseWriter, r *http.Request) {
	cardRequestID := chi.URLParam(r, "cardRequestId")
	if cardRequestID == "" {
		h.CreateResponse(w, Response{
			Message: "card request id is required",
			Code:    http.StatusBadRequest,
			Error:   "missing cardRequestId",
		})
		return
	}

	records, err := h.issuer.Tracking(r.Context(), cardRequestID)
	if err != nil {
		log.Errorf("Error [IssuanceService.Tracking] %s", err)
		h.CreateResponse(w, Response{
			Message: "unable to load tracking records",
			Code:    http.StatusInternalServerError,
			Error:   "internal error",
		})
		return
	}

	h.CreateResponse(w, Response{
		Message: "tracking records",
		Code:    http.StatusOK,
		Data:    records,
	})
}
