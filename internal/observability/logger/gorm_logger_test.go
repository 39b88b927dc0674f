package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationAndTableFromSQL(t *testing.T) {
	cases := []struct {
		sql, op, table string
	}{
		{`SELECT * FROM "credit_balances" WHERE tenant_id = $1`, "SELECT", "credit_balances"},
		{"UPDATE credit_balances SET available = available - ? WHERE available >= ?", "UPDATE", "credit_balances"},
		{"INSERT INTO credit_transactions (id) VALUES (?)", "INSERT", "credit_transactions"},
		{"WITH due AS (SELECT id FROM payment_notifications) DELETE FROM x", "SELECT", "payment_notifications"},
		{"", "UNKNOWN", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.op, operationFromSQL(tc.sql), tc.sql)
		assert.Equal(t, tc.table, tableFromSQL(tc.sql), tc.sql)
	}
}

func TestGormTraceLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig())
	query := func() (string, int64) { return "SELECT * FROM credit_orders", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), query, nil)
	assert.Zero(t, logs.Len(), "fast queries are quiet at warn")

	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "not found is skipped by default")

	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	l.Trace(ctx, time.Now(), query, errors.New("conn reset"))
	entries := logs.TakeAll()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zap.WarnLevel, entries[0].Level)
		assert.Equal(t, "credit_orders", entries[0].ContextMap()["table"])
		assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	}

	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), query, errors.New("ignored"))
	assert.Zero(t, logs.Len())
}
