package db

import (
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/campaigncredit/internal/config"
)

// Config describes the ledger database and its pool.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConfigFrom maps application config onto database settings. Lifetimes are
// configured in seconds.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Type:            strings.ToLower(strings.TrimSpace(cfg.DBType)),
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConns:    cfg.DBMaxIdleConn,
		MaxOpenConns:    cfg.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	}
}

// Validate rejects settings that would only fail later at dial time.
func (c Config) Validate() error {
	switch c.Type {
	case "sqlite":
		return nil
	case "postgres", "mysql":
	default:
		return errors.New("unsupported database type " + c.Type)
	}
	if strings.TrimSpace(c.Host) == "" || strings.TrimSpace(c.Name) == "" {
		return errors.New("database host and name are required")
	}
	if c.MaxIdleConns > 0 && c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("database max idle conns exceeds max open conns")
	}
	return nil
}
