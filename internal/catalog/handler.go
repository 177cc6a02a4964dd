package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for catalog master data.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.handleListItems)
		r.Post("/", h.handleCreateItem)
		r.Get("/{id}", h.handleGetItem)
		r.Put("/{id}", h.handleUpdateItem)
	})
	r.Route("/branches", func(r chi.Router) {
		r.Get("/", h.handleListBranches)
		r.Post("/", h.handleCreateBranch)
	})
}

type itemRequest struct {
	SKU                string          `json:"sku" validate:"required"`
	Name               string          `json:"name" validate:"required"`
	BaseUnit           string          `json:"base_unit" validate:"required"`
	WholesaleUnit      string          `json:"wholesale_unit"`
	SupplierUnit       string          `json:"supplier_unit"`
	PackToBaseFactor   decimal.Decimal `json:"pack_to_base_factor" validate:"required"`
	SupplierPackFactor decimal.Decimal `json:"supplier_pack_factor" validate:"required"`
	Active             bool            `json:"active"`
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateItem(r.Context(), itemFrom(req))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, itemResponseFrom(created))
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req itemRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	item := itemFrom(req)
	item.ID = id
	if err := h.service.UpdateItem(r.Context(), item); err != nil {
		h.respondServiceError(w, err)
		return
	}
	updated, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, itemResponseFrom(updated))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, itemResponseFrom(item))
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	items, err := h.service.ListItems(r.Context(), activeOnly)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, itemResponseFrom(it))
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"items": out})
}

type branchRequest struct {
	Code   string `json:"code" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Active bool   `json:"active"`
}

func (h *Handler) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.CreateBranch(r.Context(), Branch{Code: req.Code, Name: req.Name, Active: req.Active})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.service.ListBranches(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrBranchNotFound):
		shared.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFactorsLocked):
		shared.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("catalog request failed", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func itemFrom(req itemRequest) Item {
	return Item{
		SKU:                req.SKU,
		Name:               req.Name,
		BaseUnit:           req.BaseUnit,
		WholesaleUnit:      req.WholesaleUnit,
		SupplierUnit:       req.SupplierUnit,
		PackToBaseFactor:   req.PackToBaseFactor,
		SupplierPackFactor: req.SupplierPackFactor,
		Active:             req.Active,
	}
}

type itemResponse struct {
	ID                 int64  `json:"id"`
	SKU                string `json:"sku"`
	Name               string `json:"name"`
	BaseUnit           string `json:"base_unit"`
	WholesaleUnit      string `json:"wholesale_unit,omitempty"`
	SupplierUnit       string `json:"supplier_unit,omitempty"`
	PackToBaseFactor   string `json:"pack_to_base_factor"`
	SupplierPackFactor string `json:"supplier_pack_factor"`
	Active             bool   `json:"active"`
	CreatedAt          string `json:"created_at"`
}

func itemResponseFrom(it Item) itemResponse {
	return itemResponse{
		ID:                 it.ID,
		SKU:                it.SKU,
		Name:               it.Name,
		BaseUnit:           it.BaseUnit,
		WholesaleUnit:      it.WholesaleUnit,
		SupplierUnit:       it.SupplierUnit,
		PackToBaseFactor:   it.PackToBaseFactor.String(),
		SupplierPackFactor: it.SupplierPackFactor.String(),
		Active:             it.Active,
		CreatedAt:          it.CreatedAt.Format(time.RFC3339),
	}
}
