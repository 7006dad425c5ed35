package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*ChannelSet)(nil)
	_ driver.Valuer = ChannelSet{}
	_ sql.Scanner   = (*QuietHoursConfig)(nil)
	_ driver.Valuer = QuietHoursConfig{}
	_ sql.Scanner   = (*ChannelList)(nil)
	_ driver.Valuer = ChannelList(nil)
)

// ChannelList is the JSONB form of a decision's channel selection.
type ChannelList []ChannelType

// scanJSONB scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
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

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (c *ChannelSet) Scan(value interface{}) error {
	return scanJSONB(c, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (c ChannelSet) Value() (driver.Value, error) {
	return valueJSONB(c)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (q *QuietHoursConfig) Scan(value interface{}) error {
	return scanJSONB(q, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (q QuietHoursConfig) Value() (driver.Value, error) {
	return valueJSONB(q)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (cl *ChannelList) Scan(value interface{}) error {
	if value == nil {
		*cl = nil
		return nil
	}
	return scanJSONB(cl, value)
}

// Value implements the driver.Valuer interface. A nil list is stored as an
// empty JSON array so the column stays NOT NULL.
func (cl ChannelList) Value() (driver.Value, error) {
	if cl == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]ChannelType(cl))
}
