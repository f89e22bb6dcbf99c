package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/mistic96/payment-broker/internal"
	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
	"github.com/mistic96/payment-broker/internal/transport"
)

// AdminAPI is the catalog surface exposed over HTTP: the read operations the
// router uses plus the administrative upsert.
type AdminAPI interface {
	ServiceAPI
	UpsertGateway(ctx context.Context, gw *gatewaymodel.Gateway) error
}

type Handler struct {
	transport.BaseHandler
	GatewayService AdminAPI
	Logger         *slog.Logger
}

func NewHandler(gatewayService AdminAPI, logger *slog.Logger) *Handler {
	return &Handler{
		GatewayService: gatewayService,
		Logger:         logger,
	}
}

// ListGateways handles GET /api/v1/gateways
func (h *Handler) ListGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := h.GatewayService.ListGateways(r.Context())
	if err != nil {
		h.Logger.Error("ListGateways: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	resp := make([]*GatewayResponse, 0, len(gateways))
	for _, gw := range gateways {
		resp = append(resp, ToGatewayResponse(gw))
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": resp,
		"total":    len(resp),
	})
}

// GetGateway handles GET /api/v1/gateways/{id}
func (h *Handler) GetGateway(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("gateway id must be numeric", errors.ErrCodeValidationFailed))
		return
	}

	gw, err := h.GatewayService.GetGateway(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToGatewayResponse(gw))
}

// UpsertGateway handles PUT /api/v1/gateways
func (h *Handler) UpsertGateway(w http.ResponseWriter, r *http.Request) {
	var req UpsertGatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("UpsertGateway: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if appErr := req.Validate(); appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	gw := req.ToGateway()
	if err := h.GatewayService.UpsertGateway(r.Context(), gw); err != nil {
		h.Logger.Error("UpsertGateway: service error", "error", err, "provider", req.Provider)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("UpsertGateway: catalog updated", "gateway_id", gw.ID, "provider", gw.Provider)
	h.WriteJSON(w, http.StatusOK, ToGatewayResponse(gw))
}
