// Package constraints suspends and restores a table's primary and foreign keys
// around a bulk load.
//
// Drops are best effort: a missing constraint is not an error. The primary
// key must come back; foreign keys are restored one by one and failures are
// only reported.
package constraints

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bulkload/internal/logging"
	"bulkload/internal/schema"
	"bulkload/internal/storage"
)

// Manager issues constraint DDL for one table.
type Manager struct {
	desc    *schema.Descriptor
	dialect storage.Dialect
	log     *zap.Logger
}

// New returns a Manager for desc.
func New(desc *schema.Descriptor, dialect storage.Dialect, log *zap.Logger) *Manager {
	return &Manager{desc: desc, dialect: dialect, log: logging.OrNop(log).With(zap.String("table", desc.Table))}
}

// DropPrimaryKey drops the primary key with CASCADE, which also removes
// foreign keys on other tables that reference it. Failure is logged and
// swallowed.
func (m *Manager) DropPrimaryKey(ctx context.Context, ex storage.Execer) {
	pk := m.desc.PrimaryKey
	if pk == nil {
		m.log.Info("no primary key to drop")
		return
	}
	m.log.Info("dropping primary key", zap.String("constraint", pk.Name))
	if err := ex.Try(ctx, m.dialect.DropConstraint(m.desc.Table, pk.Name)); err != nil {
		m.log.Info("primary key not dropped", zap.String("constraint", pk.Name), zap.Error(err))
	}
}

// CreatePrimaryKey restores the primary key. Failure is returned.
func (m *Manager) CreatePrimaryKey(ctx context.Context, ex storage.Execer) error {
	pk := m.desc.PrimaryKey
	if pk == nil {
		return nil
	}
	m.log.Info("creating primary key", zap.String("constraint", pk.Name))
	if err := ex.Exec(ctx, m.dialect.AddConstraint(m.desc.Table, *pk)); err != nil {
		return fmt.Errorf("create primary key %s on %s: %w", pk.Name, m.desc.Table, err)
	}
	return nil
}

// DropForeignKeys drops each foreign key independently and returns how many
// drops failed.
func (m *Manager) DropForeignKeys(ctx context.Context, ex storage.Execer) int {
	failed := 0
	for _, fk := range m.desc.ForeignKeys {
		m.log.Info("dropping foreign key", zap.String("constraint", fk.Name))
		if err := ex.Try(ctx, m.dialect.DropConstraint(m.desc.Table, fk.Name)); err != nil {
			failed++
			m.log.Warn("foreign key not dropped", zap.String("constraint", fk.Name), zap.Error(err))
		}
	}
	return failed
}

// CreateForeignKeys restores each foreign key independently and returns how
// many failed.
func (m *Manager) CreateForeignKeys(ctx context.Context, ex storage.Execer) int {
	failed := 0
	for _, fk := range m.desc.ForeignKeys {
		m.log.Info("creating foreign key", zap.String("constraint", fk.Name))
		if err := ex.Try(ctx, m.dialect.AddConstraint(m.desc.Table, fk)); err != nil {
			failed++
			m.log.Warn("foreign key not created", zap.String("constraint", fk.Name), zap.Error(err))
		}
	}
	return failed
}

// Truncate empties the table. Run it in the same transaction as the COPY so
// COPY FREEZE is allowed.
func (m *Manager) Truncate(ctx context.Context, ex storage.Execer) error {
	m.log.Info("truncating")
	if err := ex.Exec(ctx, m.dialect.Truncate(m.desc.Table)); err != nil {
		return fmt.Errorf("truncate %s: %w", m.desc.Table, err)
	}
	return nil
}

// Analyze refreshes planner statistics. Run it after commit.
func (m *Manager) Analyze(ctx context.Context, ex storage.Execer) error {
	m.log.Info("analyzing")
	if err := ex.Exec(ctx, m.dialect.Analyze(m.desc.Table)); err != nil {
		return fmt.Errorf("analyze %s: %w", m.desc.Table, err)
	}
	return nil
}
