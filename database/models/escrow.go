package models

import (
	"time"

	"github.com/fusionbridge/swapd/money"
)

// Escrow is a dependent record of its order: one row per (order, resolver,
// side). It is never physically deleted while the order is non-terminal.
type Escrow struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	EscrowID  string `gorm:"uniqueIndex;not null"`
	OrderHash string `gorm:"index;not null"`

	Chain    Chain       `gorm:"type:chain_enum;not null"`
	Side     EscrowSide  `gorm:"type:escrow_side;not null"`
	Resolver string      `gorm:"not null"`
	Amount   money.Money `gorm:"not null"`

	// Copied from the order, hex encoded.
	Hashlock string `gorm:"not null"`

	Status EscrowStatus `gorm:"type:escrow_status;not null"`
	Stage  EscrowStage  `gorm:"type:escrow_stage;not null"`

	// Absolute timelock stage boundaries, fixed at creation.
	WithdrawalAt  time.Time `gorm:"not null"`
	PublicAt      time.Time `gorm:"not null"`
	CancellableAt time.Time `gorm:"not null"`

	FundingTxID string `gorm:"not null;default:''"`
	ReleaseTxID string `gorm:"not null;default:''"`
	RefundTxID  string `gorm:"not null;default:''"`

	// Set when the refund has been handed to the submitter, so the
	// scheduler does not request it twice.
	RefundRequestedAt *time.Time `gorm:"default:null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Escrow) TableName() string {
	return "escrows"
}
