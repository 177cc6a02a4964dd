// Package uom converts quantities between an item's packaging tiers.
//
// Every item has up to three tiers: the base (retail) unit, a wholesale unit
// and a supplier pack. All ledger arithmetic happens in base units; this
// package is the only place multipliers are applied.
package uom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
)

// ErrUnknownUnit indicates the unit name matches no tier of the item.
var ErrUnknownUnit = errors.New("uom: unknown unit")

// UnknownUnitError carries the rejected unit and the item's valid tiers.
type UnknownUnitError struct {
	Unit  string
	SKU   string
	Known []string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("uom: unit %q not defined for item %s (known: %s)",
		e.Unit, e.SKU, strings.Join(e.Known, ", "))
}

func (e *UnknownUnitError) Unwrap() error { return ErrUnknownUnit }

// Factor returns the base-unit multiplier for the given unit tier of the item.
func Factor(item catalog.Item, unit string) (decimal.Decimal, error) {
	switch {
	case equalUnit(unit, item.BaseUnit):
		return decimal.NewFromInt(1), nil
	case equalUnit(unit, item.WholesaleUnit):
		return item.PackToBaseFactor, nil
	case equalUnit(unit, item.SupplierUnit):
		return item.PackToBaseFactor.Mul(item.SupplierPackFactor), nil
	default:
		return decimal.Decimal{}, &UnknownUnitError{
			Unit:  unit,
			SKU:   item.SKU,
			Known: knownUnits(item),
		}
	}
}

// ToBase converts a quantity expressed in the given unit into base units.
// Fractional results are preserved; nothing in the pipeline may truncate.
func ToBase(item catalog.Item, qty decimal.Decimal, unit string) (decimal.Decimal, error) {
	factor, err := Factor(item, unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return qty.Mul(factor), nil
}

// FromBase re-expresses a base-unit quantity in the given unit. It is the
// exact inverse of ToBase for the same item and unit.
func FromBase(item catalog.Item, qtyBase decimal.Decimal, unit string) (decimal.Decimal, error) {
	factor, err := Factor(item, unit)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return qtyBase.Div(factor), nil
}

func equalUnit(a, b string) bool {
	return b != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func knownUnits(item catalog.Item) []string {
	units := []string{item.BaseUnit}
	if item.WholesaleUnit != "" {
		units = append(units, item.WholesaleUnit)
	}
	if item.SupplierUnit != "" {
		units = append(units, item.SupplierUnit)
	}
	return units
}
