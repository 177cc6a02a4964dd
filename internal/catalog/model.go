package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item identifies a tradeable good and carries its packaging hierarchy.
//
// Quantities in the ledger are always stored in the base (retail) unit.
// PackToBaseFactor is how many base units make one wholesale unit;
// SupplierPackFactor is how many wholesale units make one supplier pack.
type Item struct {
	ID                 int64
	SKU                string
	Name               string
	BaseUnit           string
	WholesaleUnit      string
	SupplierUnit       string
	PackToBaseFactor   decimal.Decimal
	SupplierPackFactor decimal.Decimal
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Branch is a stocking location (store or warehouse).
type Branch struct {
	ID        int64
	Code      string
	Name      string
	Active    bool
	CreatedAt time.Time
}
