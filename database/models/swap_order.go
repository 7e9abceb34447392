package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fusionbridge/swapd/money"
)

type SwapOrder struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	// Content hash of the signed intent, hex encoded. Immutable key.
	OrderHash string `gorm:"uniqueIndex;not null"`
	Maker     string `gorm:"not null"`

	MakerAsset  string      `gorm:"not null"`
	MakerAmount money.Money `gorm:"not null"`
	TakerAsset  string      `gorm:"not null"`
	TakerAmount money.Money `gorm:"not null"`

	SourceChain        Chain  `gorm:"type:chain_enum;not null"`
	DestinationChain   Chain  `gorm:"type:chain_enum;not null"`
	DestinationAddress string `gorm:"not null"`

	// sha256 of the maker's secret, hex encoded. Fixed at creation.
	Hashlock string `gorm:"not null"`

	AllowPartialFills bool        `gorm:"not null"`
	MinFillAmount     money.Money `gorm:"not null;default:0"`
	RemainingAmount   money.Money `gorm:"not null"`

	Status OrderStatus `gorm:"type:order_status;not null"`

	// Copied from the winning bid when the auction settles.
	WinningResolver string          `gorm:"not null;default:''"`
	WinningRate     decimal.Decimal `gorm:"type:numeric;not null;default:0"`

	// Absolute expiry after which the order may no longer be filled.
	Deadline time.Time `gorm:"not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SwapOrder) TableName() string {
	return "swap_orders"
}
