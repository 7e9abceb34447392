package models

import (
	"database/sql/driver"
	"fmt"
)

type EscrowStatus string

const (
	EscrowStatusCreated  EscrowStatus = "CREATED"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusRefunded EscrowStatus = "REFUNDED"
)

// IsTerminal reports whether the escrow has been spent. Created -> Released
// and Created -> Refunded are the only legal transitions, never both.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

func (s EscrowStatus) IsValid() bool {
	return s == EscrowStatusCreated || s == EscrowStatusReleased || s == EscrowStatusRefunded
}

func (s EscrowStatus) String() string {
	return string(s)
}

func (s *EscrowStatus) Scan(value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan EscrowStatus: expected string, got %T", value)
	}
	*s = EscrowStatus(str)

	return nil
}

func (s EscrowStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func CreateEscrowStatusEnumSQL() string {
	return `CREATE TYPE escrow_status AS ENUM ('CREATED', 'RELEASED', 'REFUNDED');`
}

func DropEscrowStatusEnumSQL() string {
	return `DROP TYPE IF EXISTS escrow_status;`
}

type EscrowSide string

const (
	EscrowSideSource      EscrowSide = "SOURCE"
	EscrowSideDestination EscrowSide = "DESTINATION"
)

func (s EscrowSide) IsValid() bool {
	return s == EscrowSideSource || s == EscrowSideDestination
}

func (s EscrowSide) String() string {
	return string(s)
}

func (s *EscrowSide) Scan(value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan EscrowSide: expected string, got %T", value)
	}
	*s = EscrowSide(str)

	return nil
}

func (s EscrowSide) Value() (driver.Value, error) {
	return string(s), nil
}

func CreateEscrowSideEnumSQL() string {
	return `CREATE TYPE escrow_side AS ENUM ('SOURCE', 'DESTINATION');`
}

func DropEscrowSideEnumSQL() string {
	return `DROP TYPE IF EXISTS escrow_side;`
}

// EscrowStage is the timelock window an escrow currently sits in. Stages only
// move forward: Active -> Withdrawal -> Public -> Cancellable.
type EscrowStage string

const (
	EscrowStageActive      EscrowStage = "ACTIVE"
	EscrowStageWithdrawal  EscrowStage = "WITHDRAWAL"
	EscrowStagePublic      EscrowStage = "PUBLIC"
	EscrowStageCancellable EscrowStage = "CANCELLABLE"
)

func (s EscrowStage) IsValid() bool {
	switch s {
	case EscrowStageActive, EscrowStageWithdrawal, EscrowStagePublic, EscrowStageCancellable:
		return true
	default:
		return false
	}
}

// Ordinal gives the position of the stage in the escrow lifecycle, used to
// enforce forward-only transitions.
func (s EscrowStage) Ordinal() int {
	switch s {
	case EscrowStageActive:
		return 0
	case EscrowStageWithdrawal:
		return 1
	case EscrowStagePublic:
		return 2
	case EscrowStageCancellable:
		return 3
	default:
		return -1
	}
}

func (s EscrowStage) String() string {
	return string(s)
}

func (s *EscrowStage) Scan(value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan EscrowStage: expected string, got %T", value)
	}
	*s = EscrowStage(str)

	return nil
}

func (s EscrowStage) Value() (driver.Value, error) {
	return string(s), nil
}

func CreateEscrowStageEnumSQL() string {
	return `CREATE TYPE escrow_stage AS ENUM ('ACTIVE', 'WITHDRAWAL', 'PUBLIC', 'CANCELLABLE');`
}

func DropEscrowStageEnumSQL() string {
	return `DROP TYPE IF EXISTS escrow_stage;`
}
