package db

import (
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	pgdriver "gorm.io/driver/postgres"
	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "campaigncredit.db"

// Dialect picks the gorm driver for cfg.Type. All connections run in UTC so
// ledger timestamps compare the same way on every backend.
func Dialect(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case "postgres":
		return pgdriver.Open(fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
		)), nil
	case "mysql":
		return mysqldriver.Open(mysqlDSN(cfg)), nil
	case "sqlite":
		name := cfg.Name
		if name == "" {
			name = defaultSQLiteFile
		}
		return sqlite.Open(name), nil
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
}

func mysqlDSN(cfg Config) string {
	myCfg := mysql.NewConfig()
	myCfg.User = cfg.User
	myCfg.Passwd = cfg.Password
	myCfg.Net = "tcp"
	myCfg.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	myCfg.DBName = cfg.Name
	myCfg.ParseTime = true
	myCfg.Params = map[string]string{"charset": "utf8mb4"}
	return myCfg.FormatDSN()
}
