package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/uom"
)

// Handler wires HTTP endpoints for the transfer module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}/lines", h.handleUpdateLines)
		r.Post("/{id}/complete", h.handleComplete)
	})
	r.Route("/receipts", func(r chi.Router) {
		r.Get("/{id}", h.handleGetReceipt)
		r.Post("/{id}/confirm", h.handleConfirmReceipt)
	})
}

type lineRequest struct {
	ItemID int64           `json:"item_id" validate:"required,gt=0"`
	Qty    decimal.Decimal `json:"qty" validate:"required"`
	Unit   string          `json:"unit" validate:"required"`
}

type createRequest struct {
	Code           string        `json:"code"`
	SourceBranchID int64         `json:"source_branch_id" validate:"required,gt=0"`
	DestBranchID   int64         `json:"dest_branch_id" validate:"required,gt=0"`
	Note           string        `json:"note"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
	ActorID        int64         `json:"actor_id"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.Create(r.Context(), CreateInput{
		Code:           req.Code,
		SourceBranchID: req.SourceBranchID,
		DestBranchID:   req.DestBranchID,
		Note:           req.Note,
		Lines:          linesFrom(req.Lines),
		ActorID:        req.ActorID,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, transferResponseFrom(created))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, transferResponseFrom(req))
}

type updateLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleUpdateLines(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req updateLinesRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.service.UpdateLines(r.Context(), id, linesFrom(req.Lines))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, transferResponseFrom(updated))
}

type completeRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	transferReq, receipt, err := h.service.Complete(r.Context(), id, req.ActorID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{
		"transfer": transferResponseFrom(transferReq),
		"receipt":  receiptResponseFrom(receipt),
	})
}

func (h *Handler) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, receiptResponseFrom(rec))
}

type confirmRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) handleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := h.service.ConfirmReceipt(r.Context(), id, req.ActorID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, receiptResponseFrom(rec))
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransferNotFound), errors.Is(err, ErrReceiptNotFound):
		shared.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyReceived):
		shared.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrSameBranch), errors.Is(err, ErrNoLines):
		shared.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrNegativeStock):
		shared.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, uom.ErrUnknownUnit):
		shared.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		shared.RespondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("transfer request failed", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func linesFrom(reqs []lineRequest) []LineInput {
	lines := make([]LineInput, 0, len(reqs))
	for _, l := range reqs {
		lines = append(lines, LineInput{ItemID: l.ItemID, Qty: l.Qty, Unit: l.Unit})
	}
	return lines
}

type transferResponse struct {
	ID             string         `json:"id"`
	Code           string         `json:"code"`
	SourceBranchID int64          `json:"source_branch_id"`
	DestBranchID   int64          `json:"dest_branch_id"`
	Status         string         `json:"status"`
	Note           string         `json:"note,omitempty"`
	Lines          []lineResponse `json:"lines"`
	CreatedAt      string         `json:"created_at"`
	CompletedAt    string         `json:"completed_at,omitempty"`
}

type lineResponse struct {
	ItemID int64  `json:"item_id"`
	Qty    string `json:"qty"`
	Unit   string `json:"unit"`
}

func transferResponseFrom(req Request) transferResponse {
	out := transferResponse{
		ID:             req.ID.String(),
		Code:           req.Code,
		SourceBranchID: req.SourceBranchID,
		DestBranchID:   req.DestBranchID,
		Status:         string(req.Status),
		Note:           req.Note,
		CreatedAt:      req.CreatedAt.Format(time.RFC3339),
	}
	if req.CompletedAt != nil {
		out.CompletedAt = req.CompletedAt.Format(time.RFC3339)
	}
	for _, line := range req.Lines {
		out.Lines = append(out.Lines, lineResponse{ItemID: line.ItemID, Qty: line.Qty.String(), Unit: line.Unit})
	}
	return out
}

type receiptResponse struct {
	ID           string                `json:"id"`
	TransferID   string                `json:"transfer_id"`
	DestBranchID int64                 `json:"dest_branch_id"`
	Status       string                `json:"status"`
	Lines        []receiptLineResponse `json:"lines"`
	CreatedAt    string                `json:"created_at"`
	ReceivedAt   string                `json:"received_at,omitempty"`
}

type receiptLineResponse struct {
	ItemID      int64  `json:"item_id"`
	BatchNumber string `json:"batch_number"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	UnitCost    string `json:"unit_cost"`
	Qty         string `json:"qty"`
}

func receiptResponseFrom(rec Receipt) receiptResponse {
	out := receiptResponse{
		ID:           rec.ID.String(),
		TransferID:   rec.TransferID.String(),
		DestBranchID: rec.DestBranchID,
		Status:       string(rec.Status),
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.ReceivedAt != nil {
		out.ReceivedAt = rec.ReceivedAt.Format(time.RFC3339)
	}
	for _, line := range rec.Lines {
		lr := receiptLineResponse{
			ItemID:      line.ItemID,
			BatchNumber: line.BatchNumber,
			UnitCost:    line.UnitCost.String(),
			Qty:         line.Qty.String(),
		}
		if line.ExpiryDate != nil {
			lr.ExpiryDate = line.ExpiryDate.Format("2006-01-02")
		}
		out.Lines = append(out.Lines, lr)
	}
	return out
}
