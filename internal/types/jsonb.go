package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions. These ensure the JSONB-backed types
// implement both sql.Scanner and driver.Valuer, catching signature drift
// at compile time rather than at runtime. Scan is on pointer receivers;
// Value is on value receivers.
var (
	_ sql.Scanner   = (*QueuePayload)(nil)
	_ driver.Valuer = QueuePayload{}
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different drivers.
func scanJSONB(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v interface{}) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner for QueuePayload.
func (p *QueuePayload) Scan(value interface{}) error {
	return scanJSONB(p, value)
}

// Value implements driver.Valuer for QueuePayload.
func (p QueuePayload) Value() (driver.Value, error) {
	return valueJSONB(p)
}

// Metadata is the free-form JSONB metadata attached to ledger entries
// (e.g. render timing, provider response codes, reconciliation notes).
type Metadata map[string]any

// Scan implements sql.Scanner for Metadata.
func (m *Metadata) Scan(value interface{}) error {
	return scanJSONB(m, value)
}

// Value implements driver.Valuer for Metadata.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return valueJSONB(m)
}
