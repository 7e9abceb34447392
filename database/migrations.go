package database

import (
	"fmt"

	"github.com/fusionbridge/swapd/database/models"
)

// enumDDL wraps CREATE TYPE in an idempotency guard so migrations can run on
// every daemon start.
func enumDDL(createSQL string) string {
	return fmt.Sprintf(`DO $$ BEGIN
%s
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;`, createSQL)
}

// MigrateDatabase creates the enum types and auto-migrates all models.
func (d *Database) MigrateDatabase() error {
	for _, ddl := range []string{
		models.CreateChainEnumSQL(),
		models.CreateOrderStatusEnumSQL(),
		models.CreateEscrowStatusEnumSQL(),
		models.CreateEscrowSideEnumSQL(),
		models.CreateEscrowStageEnumSQL(),
	} {
		if err := d.orm.Exec(enumDDL(ddl)).Error; err != nil {
			return fmt.Errorf("failed to create enum type: %w", err)
		}
	}

	if err := d.orm.AutoMigrate(&models.SwapOrder{}, &models.Escrow{}, &models.Fill{}); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}

	return nil
}

// ResetDatabase drops all swap tables and enum types, then migrates from
// scratch. Destructive, meant for development databases.
func (d *Database) ResetDatabase() error {
	if err := d.orm.Migrator().DropTable(&models.Fill{}, &models.Escrow{}, &models.SwapOrder{}); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	for _, ddl := range []string{
		models.DropEscrowStageEnumSQL(),
		models.DropEscrowSideEnumSQL(),
		models.DropEscrowStatusEnumSQL(),
		models.DropOrderStatusEnumSQL(),
		models.DropChainEnumSQL(),
	} {
		if err := d.orm.Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to drop enum type: %w", err)
		}
	}

	return d.MigrateDatabase()
}
