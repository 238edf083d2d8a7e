package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QueryRow is one materialized result row. Columns and Values are parallel
// slices so the serialized "values" object keeps the query's column order.
// A SQL NULL is a nil entry and is emitted as an explicit null.
type QueryRow struct {
	Columns []string
	Values  []any
}

func (r QueryRow) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

func (r QueryRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"values":{`)
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val any
		if i < len(r.Values) {
			val = r.Values[i]
		}
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		buf.Write(encoded)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func (r *QueryRow) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		Values json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}

	r.Columns = r.Columns[:0]
	r.Values = r.Values[:0]
	if len(wrapper.Values) == 0 || string(wrapper.Values) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(wrapper.Values))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("values: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("values: expected key, got %v", tok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("values[%s]: %w", key, err)
		}
		r.Columns = append(r.Columns, key)
		r.Values = append(r.Values, val)
	}

	_, err = dec.Token()
	return err
}

type SQLExecuteResponse struct {
	Success         bool       `json:"success"`
	Query           string     `json:"query"`
	RowCount        int        `json:"rowCount"`
	MaxRowLimit     int        `json:"maxRowLimit"`
	IsTruncated     bool       `json:"isTruncated"`
	Rows            []QueryRow `json:"rows"`
	Columns         []string   `json:"columns"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	Summary         string     `json:"summary"`
}
