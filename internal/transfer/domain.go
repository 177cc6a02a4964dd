package transfer

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatus is the transfer request lifecycle. DRAFT is the only mutable
// state; COMPLETED is terminal.
type TransferStatus string

const (
	// StatusDraft allows line edits.
	StatusDraft TransferStatus = "DRAFT"
	// StatusCompleted means source stock was deducted and a receipt issued.
	StatusCompleted TransferStatus = "COMPLETED"
)

// ReceiptStatus is the receipt lifecycle, independent of the transfer's.
type ReceiptStatus string

const (
	// ReceiptPending awaits confirmation at the destination.
	ReceiptPending ReceiptStatus = "PENDING"
	// ReceiptReceived means destination stock was credited. Terminal.
	ReceiptReceived ReceiptStatus = "RECEIVED"
)

var (
	// ErrTransferNotFound indicates a missing transfer row.
	ErrTransferNotFound = errors.New("transfer: not found")
	// ErrReceiptNotFound indicates a missing receipt row.
	ErrReceiptNotFound = errors.New("transfer: receipt not found")
	// ErrNotDraft rejects edits or completion outside DRAFT.
	ErrNotDraft = errors.New("transfer: not in draft status")
	// ErrSameBranch rejects transfers where source equals destination.
	ErrSameBranch = errors.New("transfer: source and destination branch must differ")
	// ErrNoLines rejects completing an empty transfer.
	ErrNoLines = errors.New("transfer: at least one line required")
	// ErrAlreadyReceived rejects a duplicate receipt confirmation. Rejection,
	// not a silent no-op, so callers can tell a race from a real duplicate.
	ErrAlreadyReceived = errors.New("transfer: receipt already received")
)

// Line is one requested item/quantity in the caller's unit. Conversion to
// base units happens at completion time.
type Line struct {
	ID         int64
	TransferID uuid.UUID
	ItemID     int64
	Qty        decimal.Decimal
	Unit       string
}

// Request is a two-sided movement: deduct at the source on completion, credit
// at the destination on receipt confirmation.
type Request struct {
	ID             uuid.UUID
	Code           string
	SourceBranchID int64
	DestBranchID   int64
	Status         TransferStatus
	Note           string
	Lines          []Line
	CreatedBy      int64
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// CanEdit reports whether lines may still change.
func (r Request) CanEdit() bool { return r.Status == StatusDraft }

// ReceiptLine mirrors one allocated batch exactly as deducted at the source.
type ReceiptLine struct {
	ID            int64
	ReceiptID     uuid.UUID
	ItemID        int64
	BatchNumber   string
	ExpiryDate    *time.Time
	UnitCost      decimal.Decimal
	Qty           decimal.Decimal
	SourceEntryID int64
}

// Receipt is created PENDING when a transfer completes and transitions to
// RECEIVED exactly once.
type Receipt struct {
	ID           uuid.UUID
	TransferID   uuid.UUID
	DestBranchID int64
	Status       ReceiptStatus
	Lines        []ReceiptLine
	CreatedAt    time.Time
	ReceivedAt   *time.Time
	ReceivedBy   int64
}
