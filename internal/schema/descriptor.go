// Package schema describes a destination table as seen by the loader: its
// ordered columns with resolved type tags, and the primary/foreign key
// constraints that are suspended around a load.
package schema

import "strings"

// ColumnType is the coarse type tag the formatting hooks care about.
type ColumnType int

const (
	Other ColumnType = iota
	Integer
	BigInt
	Boolean
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "integer"
	case BigInt:
		return "bigint"
	case Boolean:
		return "boolean"
	default:
		return "other"
	}
}

// ParseColumnType maps a database type name (as rendered by format_type or
// information_schema) to a ColumnType.
//
//	"smallint"/"integer"/"int2"/"int4" -> Integer
//	"bigint"/"int8"                    -> BigInt
//	"boolean"/"bool"                   -> Boolean
//	everything else                    -> Other
func ParseColumnType(name string) ColumnType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "smallint", "integer", "int", "int2", "int4":
		return Integer
	case "bigint", "int8":
		return BigInt
	case "boolean", "bool":
		return Boolean
	default:
		return Other
	}
}

// Column is one destination column.
type Column struct {
	Name string
	Type ColumnType
}

// Constraint is a named table constraint with its full SQL definition, e.g.
// {Name: "cities_pkey", Def: "PRIMARY KEY (id)"}.
type Constraint struct {
	Name string
	Def  string
}

// Descriptor is fetched from the live database once per job.
type Descriptor struct {
	Table       string
	PrimaryKey  *Constraint
	ForeignKeys []Constraint
	Columns     []Column
}

// Column looks up a column by name.
func (d *Descriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in table order.
func (d *Descriptor) ColumnNames() []string {
	out := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Name
	}
	return out
}

// TypeOf returns the tag for name, or Other when the column is unknown.
func (d *Descriptor) TypeOf(name string) ColumnType {
	c, _ := d.Column(name)
	return c.Type
}
