package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fusionbridge/swapd/database/models"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderRepository is the persistence port used by the order store for
// write-through. SaveOrderGraph writes an order together with its dependent
// records in one transaction so a crash never leaves a half-updated order.
type OrderRepository interface {
	SaveOrderGraph(ctx context.Context, order *models.SwapOrder, escrows []*models.Escrow, fills []*models.Fill) error
	GetOrder(ctx context.Context, orderHash string) (*models.SwapOrder, error)
	ListOrders(ctx context.Context, statuses ...models.OrderStatus) ([]*models.SwapOrder, error)
	ListEscrows(ctx context.Context, orderHash string) ([]*models.Escrow, error)
	ListFills(ctx context.Context, orderHash string) ([]*models.Fill, error)
	DeleteOrderGraph(ctx context.Context, orderHash string) error
}

func (d *Database) SaveOrderGraph(ctx context.Context, order *models.SwapOrder, escrows []*models.Escrow, fills []*models.Fill) error {
	return d.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("failed to save order %s: %w", order.OrderHash, err)
		}
		for _, escrow := range escrows {
			if err := tx.Save(escrow).Error; err != nil {
				return fmt.Errorf("failed to save escrow %s: %w", escrow.EscrowID, err)
			}
		}
		for _, fill := range fills {
			if err := tx.Save(fill).Error; err != nil {
				return fmt.Errorf("failed to save fill for order %s: %w", fill.OrderHash, err)
			}
		}

		return nil
	})
}

func (d *Database) GetOrder(ctx context.Context, orderHash string) (*models.SwapOrder, error) {
	var order models.SwapOrder
	err := d.orm.WithContext(ctx).Where("order_hash = ?", orderHash).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderHash, err)
	}

	return &order, nil
}

func (d *Database) ListOrders(ctx context.Context, statuses ...models.OrderStatus) ([]*models.SwapOrder, error) {
	query := d.orm.WithContext(ctx)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var orders []*models.SwapOrder
	if err := query.Order("id").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, nil
}

func (d *Database) ListEscrows(ctx context.Context, orderHash string) ([]*models.Escrow, error) {
	var escrows []*models.Escrow
	err := d.orm.WithContext(ctx).Where("order_hash = ?", orderHash).Order("id").Find(&escrows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list escrows for order %s: %w", orderHash, err)
	}

	return escrows, nil
}

func (d *Database) ListFills(ctx context.Context, orderHash string) ([]*models.Fill, error) {
	var fills []*models.Fill
	err := d.orm.WithContext(ctx).Where("order_hash = ?", orderHash).Order("id").Find(&fills).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list fills for order %s: %w", orderHash, err)
	}

	return fills, nil
}

// DeleteOrderGraph removes an archived order and its dependent records.
func (d *Database) DeleteOrderGraph(ctx context.Context, orderHash string) error {
	return d.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_hash = ?", orderHash).Delete(&models.Fill{}).Error; err != nil {
			return fmt.Errorf("failed to delete fills for order %s: %w", orderHash, err)
		}
		if err := tx.Where("order_hash = ?", orderHash).Delete(&models.Escrow{}).Error; err != nil {
			return fmt.Errorf("failed to delete escrows for order %s: %w", orderHash, err)
		}
		if err := tx.Where("order_hash = ?", orderHash).Delete(&models.SwapOrder{}).Error; err != nil {
			return fmt.Errorf("failed to delete order %s: %w", orderHash, err)
		}

		return nil
	})
}
