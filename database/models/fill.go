package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fusionbridge/swapd/money"
)

// Fill is an append-only ledger row recording one accepted partial or full
// fill of an order.
type Fill struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	OrderHash string      `gorm:"index;not null"`
	Resolver  string      `gorm:"not null"`
	Amount    money.Money `gorm:"not null"`

	// Rate the resolver committed to at acceptance time.
	Rate decimal.Decimal `gorm:"type:numeric;not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Fill) TableName() string {
	return "fills"
}
