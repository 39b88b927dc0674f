package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apikeydomain "github.com/smallbiznis/campaigncredit/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Apply brings the schema up to date. Postgres runs the embedded SQL
// migrations; other dialects are created from the gorm models.
func Apply(conn *gorm.DB, dbType string, log *zap.Logger) error {
	if dbType != "postgres" {
		log.Info("running gorm auto migration", zap.String("db_type", dbType))
		return AutoMigrate(conn)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB, log)
}

// RunMigrations applies pending postgres migrations and logs the version
// change.
func RunMigrations(db *sql.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	src, err := newSource()
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	// not closed: Close would also close the shared *sql.DB
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	from, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("schema up to date", zap.Uint("version", from))
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	to, _, _ := m.Version()
	log.Info("schema migrated", zap.Uint("from", from), zap.Uint("to", to))
	return nil
}

func newSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return src, nil
}

// Models lists the tables owned by the service, for dialects without SQL
// migrations.
func Models() []any {
	return []any{
		&pricingdomain.PricingConfig{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.Transaction{},
		&orderdomain.Order{},
		&paymentdomain.Notification{},
		&apikeydomain.APIKey{},
		&auditdomain.AuditLog{},
	}
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
