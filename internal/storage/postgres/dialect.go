package postgres

import (
	"fmt"
	"strings"

	"bulkload/internal/schema"
	"bulkload/internal/storage"
)

// Dialect renders Postgres SQL.
type Dialect struct{}

var _ storage.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

// QuoteTable quotes a possibly schema-qualified name: public.cities ->
// "public"."cities".
func (Dialect) QuoteTable(table string) string { return pgFQN(table) }

func (Dialect) DropConstraint(table, constraint string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s CASCADE", pgFQN(table), pgIdent(constraint))
}

func (Dialect) AddConstraint(table string, c schema.Constraint) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s", pgFQN(table), pgIdent(c.Name), c.Def)
}

func (Dialect) Truncate(table string) string {
	return "TRUNCATE TABLE " + pgFQN(table)
}

func (Dialect) Analyze(table string) string {
	return "ANALYZE " + pgFQN(table)
}

// CopyStatement renders COPY ... FROM STDIN for a CSV payload. The column
// list is always explicit; HEADER only tells the server to skip line one.
func (Dialect) CopyStatement(req storage.CopyRequest) string {
	opts := []string{"FORMAT csv"}
	if req.Header {
		opts = append(opts, "HEADER true")
	}
	if req.Freeze {
		opts = append(opts, "FREEZE true")
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (%s)",
		pgFQN(req.Table), strings.Join(mapIdent(req.Columns), ", "), strings.Join(opts, ", "))
}

func (Dialect) TransactionalDDL() bool { return true }

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.hr_events" to
// "public"."hr_events". If no dot is present, returns a single quoted ident.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
