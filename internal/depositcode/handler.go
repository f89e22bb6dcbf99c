package depositcode

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/mistic96/payment-broker/internal"
	codemodel "github.com/mistic96/payment-broker/internal/core/datamodel/depositcode"
	"github.com/mistic96/payment-broker/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	CodeService ServiceAPI
	Logger      *slog.Logger
}

func NewHandler(codeService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		CodeService: codeService,
		Logger:      logger,
	}
}

// GenerateCode handles POST /api/v1/deposit-codes
func (h *Handler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	var req GenerateCodeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Logger.Error("GenerateCode: failed to parse request body", "error", err)
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}
	if req.UserID == "" {
		req.UserID = errors.UserIDFromContext(r.Context())
	}

	code, err := h.CodeService.GenerateCode(r.Context(), &req)
	if err != nil {
		h.Logger.Error("GenerateCode: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("GenerateCode: code created", "code_id", code.ID)
	h.WriteJSON(w, http.StatusCreated, ToCodeResponse(code))
}

// GetCode handles GET /api/v1/deposit-codes/{code}
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.CodeService.GetCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToCodeResponse(code))
}

// ListCodes handles GET /api/v1/deposit-codes
func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		UserID: r.URL.Query().Get("user_id"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = codemodel.Status(status)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	codes, err := h.CodeService.ListCodes(r.Context(), filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	responses := make([]*CodeResponse, 0, len(codes))
	for _, c := range codes {
		responses = append(responses, ToCodeResponse(c))
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": responses})
}

// RejectCode handles POST /api/v1/deposit-codes/{id}/reject
func (h *Handler) RejectCode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid code id", errors.ErrCodeValidationFailed))
		return
	}

	var req RejectCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if err := h.CodeService.RejectCode(r.Context(), id, req.Reason); err != nil {
		h.Logger.Error("RejectCode: service error", "error", err, "code_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"code_id": id,
		"status":  string(codemodel.StatusRejected),
	})
}
