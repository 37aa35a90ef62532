package dataset

import (
	"fmt"
	"strings"
)

// Column is a single column of a fixed dataset table.
type Column struct {
	Name    string
	Type    string
	NotNull bool
}

// Table is one of the fixed dataset tables.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table declares the named column.
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// DDL returns the CREATE TABLE statement for the table. The statement is valid
// for both sqlite and duckdb.
func (t Table) DDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", t.Name)
	for i, c := range t.Columns {
		b.WriteString("    ")
		b.WriteString(c.Name)
		b.WriteString(" ")
		b.WriteString(c.Type)
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// Tables is the fixed schema of the analysis dataset. It never changes at runtime.
var Tables = []Table{
	{
		Name: "fact_sessions",
		Columns: []Column{
			{Name: "session_creation_ts", Type: "timestamp", NotNull: true},
			{Name: "user_id", Type: "varchar(100)"},
			{Name: "session_id", Type: "varchar(256)"},
			{Name: "platform", Type: "varchar(100)"},
			{Name: "app_version", Type: "varchar(100)"},
			{Name: "client_type", Type: "varchar(100)"},
			{Name: "client_language", Type: "varchar(100)"},
			{Name: "container_type", Type: "varchar(100)"},
			{Name: "ip_country", Type: "varchar(100)"},
			{Name: "time_zone", Type: "varchar(100)"},
			{Name: "previous_login_ts", Type: "timestamp"},
		},
	},
	{
		Name: "fact_rewards",
		Columns: []Column{
			{Name: "event_ts", Type: "timestamp"},
			{Name: "user_id", Type: "varchar(100)"},
			{Name: "session_id", Type: "varchar(300)"},
			{Name: "segment_id", Type: "int"},
			{Name: "bundle_id", Type: "int"},
			{Name: "sku_id", Type: "int"},
			{Name: "amount", Type: "int"},
			{Name: "event_type", Type: "varchar(200)"},
			{Name: "reward_request_id", Type: "varchar(200)"},
			{Name: "transaction_id", Type: "int"},
		},
	},
	{
		Name: "fact_balance",
		Columns: []Column{
			{Name: "event_ts", Type: "timestamp"},
			{Name: "user_id", Type: "varchar(100)"},
			{Name: "received_item_id", Type: "varchar(100)"},
			{Name: "current_item_balance", Type: "int"},
			{Name: "received_item_quantity", Type: "int"},
			{Name: "source_type", Type: "varchar(100)"},
			{Name: "source_id", Type: "varchar(100)"},
			{Name: "source_trigger", Type: "varchar(100)"},
			{Name: "correlation_id", Type: "varchar(200)"},
		},
	},
	{
		Name: "fact_purchases",
		Columns: []Column{
			{Name: "event_ts", Type: "timestamp", NotNull: true},
			{Name: "user_id", Type: "varchar(100)"},
			{Name: "transaction_id", Type: "varchar(256)"},
			{Name: "price_usd", Type: "numeric(18,3)"},
			{Name: "currency", Type: "varchar(256)"},
			{Name: "platform", Type: "varchar(100)"},
			{Name: "session_id", Type: "varchar(300)"},
			{Name: "transaction_source_id", Type: "int"},
			{Name: "segment_id", Type: "int"},
			{Name: "payment_quantity", Type: "int"},
			{Name: "transaction_amount", Type: "numeric(18,3)"},
			{Name: "sku_id", Type: "int"},
			{Name: "is_ftd", Type: "boolean"},
		},
	},
	{
		Name: "fact_install",
		Columns: []Column{
			{Name: "user_id", Type: "varchar(100)"},
			{Name: "install_ts", Type: "timestamp"},
			{Name: "install_version", Type: "varchar(100)"},
			{Name: "platform", Type: "varchar(100)"},
		},
	},
}

// TableByName looks up one of the fixed tables.
func TableByName(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// SchemaDocument renders the fixed schema as the CREATE TABLE statements that are
// handed to the code synthesizer when no richer context document is configured.
func SchemaDocument() string {
	var b strings.Builder
	b.WriteString("The database contains the following tables:\n\n")
	for i, t := range Tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t.DDL())
		b.WriteString(";")
	}
	b.WriteString("\n")
	return b.String()
}
