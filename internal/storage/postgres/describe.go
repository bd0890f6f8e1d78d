package postgres

import (
	"context"
	"fmt"

	"bulkload/internal/schema"
	"bulkload/internal/storage"
)

const (
	columnsSQL = `
SELECT a.attname, format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

	constraintsSQL = `
SELECT conname, contype::text, pg_get_constraintdef(oid)
FROM pg_constraint
WHERE conrelid = $1 AND contype IN ('p', 'f')
ORDER BY conname`
)

// Describe reads the table's columns, primary key and foreign keys.
func (c *Conn) Describe(ctx context.Context, table string) (*schema.Descriptor, error) {
	var oid *uint32
	if err := c.conn.QueryRow(ctx, "SELECT to_regclass($1)::oid", pgFQN(table)).Scan(&oid); err != nil {
		return nil, fmt.Errorf("postgres: resolve %s: %w", table, describeErr(err))
	}
	if oid == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}

	d := &schema.Descriptor{Table: table}

	rows, err := c.conn.Query(ctx, columnsSQL, *oid)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns of %s: %w", table, describeErr(err))
	}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan column: %w", err)
		}
		d.Columns = append(d.Columns, schema.Column{Name: name, Type: schema.ParseColumnType(typ)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: columns of %s: %w", table, describeErr(err))
	}

	rows, err = c.conn.Query(ctx, constraintsSQL, *oid)
	if err != nil {
		return nil, fmt.Errorf("postgres: constraints of %s: %w", table, describeErr(err))
	}
	defer rows.Close()
	for rows.Next() {
		var name, kind, def string
		if err := rows.Scan(&name, &kind, &def); err != nil {
			return nil, fmt.Errorf("postgres: scan constraint: %w", err)
		}
		con := schema.Constraint{Name: name, Def: def}
		switch kind {
		case "p":
			d.PrimaryKey = &con
		case "f":
			d.ForeignKeys = append(d.ForeignKeys, con)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: constraints of %s: %w", table, describeErr(err))
	}
	return d, nil
}
