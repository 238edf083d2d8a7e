package types

import "time"

type ColumnInfo struct {
	ColumnName   string `json:"columnName"`
	DataType     string `json:"dataType"`
	MaxLength    *int   `json:"maxLength"`
	IsNullable   bool   `json:"isNullable"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
	IsIdentity   bool   `json:"isIdentity"`
}

type ForeignKeyInfo struct {
	ConstraintName string `json:"constraintName"`
	FromTable      string `json:"fromTable"`
	FromColumn     string `json:"fromColumn"`
	ToTable        string `json:"toTable"`
	ToColumn       string `json:"toColumn"`
}

type TableSchema struct {
	TableName   string           `json:"tableName"`
	Columns     []ColumnInfo     `json:"columns"`
	ForeignKeys []ForeignKeyInfo `json:"foreignKeys"`
	RowCount    int64            `json:"rowCount"`
}

type SchemaDescribeResponse struct {
	DatabaseName string        `json:"databaseName"`
	RetrievedAt  time.Time     `json:"retrievedAt"`
	Tables       []TableSchema `json:"tables"`
	Summary      string        `json:"summary"`
}

// Totals returns the table, column and foreign key counts of the description.
func (r *SchemaDescribeResponse) Totals() (tables, columns, foreignKeys int) {
	for _, t := range r.Tables {
		columns += len(t.Columns)
		foreignKeys += len(t.ForeignKeys)
	}
	return len(r.Tables), columns, foreignKeys
}
