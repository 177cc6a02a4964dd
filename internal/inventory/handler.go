package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/uom"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	items    ItemSource
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, items ItemSource) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		items:    items,
		validate: validator.New(),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/stock", h.handleCurrentStock)
		r.Get("/batches", h.handleBatchBalances)
		r.Get("/movements", h.handleListMovements)
		r.Post("/movements", h.handleAppend)
		r.Post("/allocations", h.handleAllocate)
		r.Post("/conversions", h.handleConvert)
		r.Post("/opening-balances", h.handleOpeningImport)
		r.Post("/snapshots/rebuild", h.handleRebuild)
	})
}

type appendRequest struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	BranchID    int64           `json:"branch_id" validate:"required,gt=0"`
	QtyDelta    decimal.Decimal `json:"qty_delta" validate:"required"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *string         `json:"expiry_date"`
	TxType      string          `json:"tx_type" validate:"required"`
	RefModule   string          `json:"ref_module"`
	RefID       string          `json:"ref_id"`
	Note        string          `json:"note"`
	ActorID     int64           `json:"actor_id"`
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req appendRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "expiry_date must be YYYY-MM-DD")
		return
	}
	m, err := h.service.Append(r.Context(), AppendInput{
		ItemID:      req.ItemID,
		BranchID:    req.BranchID,
		QtyDelta:    req.QtyDelta,
		UnitCost:    req.UnitCost,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  expiry,
		TxType:      TransactionType(req.TxType),
		RefModule:   req.RefModule,
		RefID:       req.RefID,
		Note:        req.Note,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, movementResponseFrom(m))
}

type allocateRequest struct {
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	BranchID int64           `json:"branch_id" validate:"required,gt=0"`
	QtyBase  decimal.Decimal `json:"qty_base" validate:"required"`
	TxType   string          `json:"tx_type"`
	RefID    string          `json:"ref_id"`
	Note     string          `json:"note"`
	ActorID  int64           `json:"actor_id"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := h.service.Allocate(r.Context(), req.ItemID, req.BranchID, req.QtyBase, AllocateParams{
		TxType:  TransactionType(req.TxType),
		RefID:   req.RefID,
		Note:    req.Note,
		ActorID: req.ActorID,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]allocationResponse, 0, len(plan))
	for _, a := range plan {
		out = append(out, allocationResponseFrom(a))
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{"allocations": out})
}

type convertRequest struct {
	ItemID int64           `json:"item_id" validate:"required,gt=0"`
	Qty    decimal.Decimal `json:"qty" validate:"required"`
	Unit   string          `json:"unit" validate:"required"`
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.items.GetItem(r.Context(), req.ItemID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	qtyBase, err := uom.ToBase(item, req.Qty, req.Unit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]string{"qty_base": qtyBase.String()})
}

func (h *Handler) handleCurrentStock(w http.ResponseWriter, r *http.Request) {
	itemID, branchID, ok := pairParams(w, r)
	if !ok {
		return
	}
	qty, err := h.service.CurrentStock(r.Context(), itemID, branchID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]string{"qty": qty.String()})
}

func (h *Handler) handleBatchBalances(w http.ResponseWriter, r *http.Request) {
	itemID, branchID, ok := pairParams(w, r)
	if !ok {
		return
	}
	asOf := time.Time{}
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}
	batches, err := h.service.BatchBalances(r.Context(), itemID, branchID, asOf)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchResponseFrom(b))
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	itemID, branchID, ok := pairParams(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := MovementFilter{
		ItemID:   itemID,
		BranchID: branchID,
		TxType:   TransactionType(r.URL.Query().Get("tx_type")),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := parseDate(&raw)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		filter.From = *from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := parseDate(&raw)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		// to is inclusive of the whole day
		filter.To = to.AddDate(0, 0, 1)
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementResponseFrom(m))
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"movements": out})
}

type openingImportRequest struct {
	ActorID int64 `json:"actor_id"`
	Lines   []struct {
		ItemID      int64           `json:"item_id" validate:"required,gt=0"`
		BranchID    int64           `json:"branch_id" validate:"required,gt=0"`
		Qty         decimal.Decimal `json:"qty" validate:"required"`
		Unit        string          `json:"unit" validate:"required"`
		UnitCost    decimal.Decimal `json:"unit_cost"`
		BatchNumber string          `json:"batch_number"`
		ExpiryDate  *string         `json:"expiry_date"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleOpeningImport(w http.ResponseWriter, r *http.Request) {
	var req openingImportRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	lines := make([]OpeningLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		expiry, err := parseDate(l.ExpiryDate)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "expiry_date must be YYYY-MM-DD")
			return
		}
		lines = append(lines, OpeningLine{
			ItemID:      l.ItemID,
			BranchID:    l.BranchID,
			Qty:         l.Qty,
			Unit:        l.Unit,
			UnitCost:    l.UnitCost,
			BatchNumber: l.BatchNumber,
			ExpiryDate:  expiry,
		})
	}
	movements, err := h.service.ImportOpeningBalances(r.Context(), lines, req.ActorID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{"imported": len(movements)})
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	itemRaw := r.URL.Query().Get("item_id")
	branchRaw := r.URL.Query().Get("branch_id")
	if itemRaw == "" && branchRaw == "" {
		count, err := h.service.RebuildAllSnapshots(r.Context())
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		shared.RespondJSON(w, http.StatusOK, map[string]int{"rebuilt": count})
		return
	}
	itemID, branchID, ok := pairParams(w, r)
	if !ok {
		return
	}
	if err := h.service.RebuildSnapshot(r.Context(), itemID, branchID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]int{"rebuilt": 1})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		shared.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNegativeStock):
		shared.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, uom.ErrUnknownUnit):
		shared.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		shared.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSnapshotNotFound), errors.Is(err, catalog.ErrItemNotFound):
		shared.RespondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("inventory request failed", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func pairParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	itemID, err := strconv.ParseInt(r.URL.Query().Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "item_id required")
		return 0, 0, false
	}
	branchID, err := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if err != nil || branchID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "branch_id required")
		return 0, 0, false
	}
	return itemID, branchID, true
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type movementResponse struct {
	ID          int64  `json:"id"`
	ItemID      int64  `json:"item_id"`
	BranchID    int64  `json:"branch_id"`
	QtyDelta    string `json:"qty_delta"`
	UnitCost    string `json:"unit_cost"`
	BatchNumber string `json:"batch_number"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	TxType      string `json:"tx_type"`
	RefModule   string `json:"ref_module,omitempty"`
	RefID       string `json:"ref_id,omitempty"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func movementResponseFrom(m Movement) movementResponse {
	out := movementResponse{
		ID:          m.ID,
		ItemID:      m.ItemID,
		BranchID:    m.BranchID,
		QtyDelta:    m.QtyDelta.String(),
		UnitCost:    m.UnitCost.String(),
		BatchNumber: m.BatchNumber,
		TxType:      string(m.TxType),
		RefModule:   m.RefModule,
		RefID:       m.RefID,
		Note:        m.Note,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
	}
	if m.ExpiryDate != nil {
		out.ExpiryDate = m.ExpiryDate.Format("2006-01-02")
	}
	return out
}

type batchResponse struct {
	BatchNumber string `json:"batch_number"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	UnitCost    string `json:"unit_cost"`
	Available   string `json:"available"`
}

func batchResponseFrom(b BatchBalance) batchResponse {
	out := batchResponse{
		BatchNumber: b.BatchNumber,
		UnitCost:    b.UnitCost.String(),
		Available:   b.Available.String(),
	}
	if b.ExpiryDate != nil {
		out.ExpiryDate = b.ExpiryDate.Format("2006-01-02")
	}
	return out
}

type allocationResponse struct {
	BatchNumber string `json:"batch_number"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	UnitCost    string `json:"unit_cost"`
	Qty         string `json:"qty"`
	EntryID     int64  `json:"entry_id"`
}

func allocationResponseFrom(a Allocation) allocationResponse {
	out := allocationResponse{
		BatchNumber: a.BatchNumber,
		UnitCost:    a.UnitCost.String(),
		Qty:         a.Qty.String(),
		EntryID:     a.EntryID,
	}
	if a.ExpiryDate != nil {
		out.ExpiryDate = a.ExpiryDate.Format("2006-01-02")
	}
	return out
}
