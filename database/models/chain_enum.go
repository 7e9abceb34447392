package models

import (
	"database/sql/driver"
	"fmt"
)

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainAlgorand Chain = "algorand"
)

func (c Chain) IsValid() bool {
	return c == ChainEthereum || c == ChainAlgorand
}

func (c Chain) String() string {
	return string(c)
}

func (c *Chain) Scan(value interface{}) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan Chain: expected string, got %T", value)
	}
	*c = Chain(str)

	return nil
}

func (c Chain) Value() (driver.Value, error) {
	return string(c), nil
}

func CreateChainEnumSQL() string {
	return `CREATE TYPE chain_enum AS ENUM ('ethereum', 'algorand');`
}

func DropChainEnumSQL() string {
	return `DROP TYPE IF EXISTS chain_enum;`
}
