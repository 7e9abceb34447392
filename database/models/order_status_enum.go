package models

import (
	"database/sql/driver"
	"fmt"
)

type OrderStatus string

const (
	// happy path
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusAuctionActive   OrderStatus = "AUCTION_ACTIVE"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	// deviation paths
	OrderStatusExpired   OrderStatus = "EXPIRED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// IsTerminal reports whether no further mutation of the order is permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusExpired, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAuctionActive, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusExpired, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s *OrderStatus) Scan(value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan OrderStatus: expected string, got %T", value)
	}
	*s = OrderStatus(str)

	return nil
}

func (s OrderStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func CreateOrderStatusEnumSQL() string {
	return `CREATE TYPE order_status AS ENUM (
		'PENDING',
		'AUCTION_ACTIVE',
		'PARTIALLY_FILLED',
		'FILLED',
		'EXPIRED',
		'CANCELLED',
		'REFUNDED'
	);`
}

func DropOrderStatusEnumSQL() string {
	return `DROP TYPE IF EXISTS order_status;`
}
