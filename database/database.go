package database

import (
	"database/sql"
	"fmt"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	log "github.com/sirupsen/logrus"
)

// EmbeddedHost is the sentinel host value that boots an embedded postgres
// instead of connecting to an external one.
const EmbeddedHost = "embedded"

type Database struct {
	host     string
	username string
	password string
	database string
	port     uint32
	dataPath string
	embedded *embeddedpostgres.EmbeddedPostgres
	orm      *gorm.DB
}

// NewDatabase connects to postgres and returns the handle plus a close
// function. With host == EmbeddedHost an embedded postgres is started with
// its data under dataPath, which is what development mode and tests use.
func NewDatabase(username, password, database string, port uint32, dataPath, host string) (*Database, func() error, error) {
	db := &Database{
		host:     host,
		username: username,
		password: password,
		database: database,
		port:     port,
		dataPath: dataPath,
	}

	if host == EmbeddedHost {
		config := embeddedpostgres.DefaultConfig().
			Username(username).
			Password(password).
			Database(database).
			Port(port)
		if dataPath != "" {
			config = config.DataPath(dataPath)
		}
		db.embedded = embeddedpostgres.NewDatabase(config)
		if err := db.embedded.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start embedded postgres: %w", err)
		}
		log.Info("Embedded postgres started")
	}

	if err := db.connect(); err != nil {
		if db.embedded != nil {
			if stopErr := db.embedded.Stop(); stopErr != nil {
				log.Errorf("Failed to stop embedded postgres: %v", stopErr)
			}
		}

		return nil, nil, err
	}

	return db, db.close, nil
}

// GetConnectionURL builds the postgres connection string. The embedded
// sentinel resolves to localhost.
func (d *Database) GetConnectionURL() string {
	host := d.host
	if host == EmbeddedHost {
		host = "localhost"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.username, d.password, host, d.port, d.database)
}

func (d *Database) connect() error {
	// Ping through database/sql first so a bad DSN fails fast and clear.
	conn, err := sql.Open("postgres", d.GetConnectionURL())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.Open(d.GetConnectionURL()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect gorm: %w", err)
	}
	d.orm = gormDB

	return nil
}

func (d *Database) ORM() *gorm.DB {
	return d.orm
}

func (d *Database) close() error {
	if d.orm != nil {
		if sqlDB, err := d.orm.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				return fmt.Errorf("failed to close database connection: %w", err)
			}
		}
	}
	if d.embedded != nil {
		if err := d.embedded.Stop(); err != nil {
			return fmt.Errorf("failed to stop embedded postgres: %w", err)
		}
	}

	return nil
}
