package catalog

import (
	"context"
	"errors"
	"strings"
)

// ErrFactorsLocked is returned when conversion factors are changed on an item
// that already has posted ledger entries. Changing the factors would silently
// reinterpret every historical quantity.
var ErrFactorsLocked = errors.New("catalog: conversion factors are locked once movements exist")

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, activeOnly bool) ([]Item, error)
	CreateItem(ctx context.Context, it Item) (Item, error)
	UpdateItem(ctx context.Context, it Item) error
	UpdateItemWithFactorGuard(ctx context.Context, it Item) error
	GetBranch(ctx context.Context, id int64) (Branch, error)
	ListBranches(ctx context.Context) ([]Branch, error)
	CreateBranch(ctx context.Context, b Branch) (Branch, error)
}

// Service coordinates catalog operations.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, errors.New("catalog: invalid item id")
	}
	return s.repo.GetItem(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, activeOnly bool) ([]Item, error) {
	return s.repo.ListItems(ctx, activeOnly)
}

func (s *Service) CreateItem(ctx context.Context, it Item) (Item, error) {
	if err := validateItem(it); err != nil {
		return Item{}, err
	}
	return s.repo.CreateItem(ctx, it)
}

// UpdateItem applies changes to an item. Conversion factors are immutable once
// any non-opening movement has been posted for the item; when the factors
// change, the update runs through the guarded write so the freeze holds even
// against a movement posted concurrently.
func (s *Service) UpdateItem(ctx context.Context, it Item) error {
	if it.ID <= 0 {
		return errors.New("catalog: invalid item id")
	}
	if err := validateItem(it); err != nil {
		return err
	}
	existing, err := s.repo.GetItem(ctx, it.ID)
	if err != nil {
		return err
	}
	factorsChanged := !existing.PackToBaseFactor.Equal(it.PackToBaseFactor) ||
		!existing.SupplierPackFactor.Equal(it.SupplierPackFactor)
	if factorsChanged {
		return s.repo.UpdateItemWithFactorGuard(ctx, it)
	}
	return s.repo.UpdateItem(ctx, it)
}

func (s *Service) GetBranch(ctx context.Context, id int64) (Branch, error) {
	if id <= 0 {
		return Branch{}, errors.New("catalog: invalid branch id")
	}
	return s.repo.GetBranch(ctx, id)
}

func (s *Service) ListBranches(ctx context.Context) ([]Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) CreateBranch(ctx context.Context, b Branch) (Branch, error) {
	if strings.TrimSpace(b.Code) == "" || strings.TrimSpace(b.Name) == "" {
		return Branch{}, errors.New("catalog: branch code and name required")
	}
	return s.repo.CreateBranch(ctx, b)
}

func validateItem(it Item) error {
	if strings.TrimSpace(it.SKU) == "" || strings.TrimSpace(it.Name) == "" {
		return errors.New("catalog: item sku and name required")
	}
	if strings.TrimSpace(it.BaseUnit) == "" {
		return errors.New("catalog: item base unit required")
	}
	if !it.PackToBaseFactor.IsPositive() {
		return errors.New("catalog: pack-to-base factor must be positive")
	}
	if !it.SupplierPackFactor.IsPositive() {
		return errors.New("catalog: supplier pack factor must be positive")
	}
	return nil
}
