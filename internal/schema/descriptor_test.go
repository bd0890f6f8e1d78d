package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseColumnType(t *testing.T) {
	cases := map[string]ColumnType{
		"integer":                     Integer,
		" SMALLINT ":                  Integer,
		"int4":                        Integer,
		"bigint":                      BigInt,
		"int8":                        BigInt,
		"boolean":                     Boolean,
		"bool":                        Boolean,
		"text":                        Other,
		"numeric(10,2)":               Other,
		"timestamp without time zone": Other,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseColumnType(in), in)
	}
}

func TestDescriptor_Lookup(t *testing.T) {
	d := &Descriptor{
		Table: "cities",
		Columns: []Column{
			{Name: "id", Type: BigInt},
			{Name: "capital", Type: Boolean},
			{Name: "name", Type: Other},
		},
	}
	assert.Equal(t, []string{"id", "capital", "name"}, d.ColumnNames())
	assert.Equal(t, Boolean, d.TypeOf("capital"))
	assert.Equal(t, Other, d.TypeOf("missing"))

	_, ok := d.Column("missing")
	assert.False(t, ok)
	assert.Equal(t, "bigint", BigInt.String())
}
