package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// encodeJSON serialises a value into a nullable TEXT column. Nil values map
// to SQL NULL so empty payloads stay distinguishable from empty objects.
func encodeJSON(value interface{}) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json column: %w", err)
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeJSON deserialises a nullable TEXT column into target. NULL leaves
// the target untouched.
func decodeJSON(column sql.NullString, target interface{}) error {
	if !column.Valid || column.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(column.String), target); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

// nullableTime converts an optional timestamp for a nullable column.
func nullableTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

// timePtr converts a scanned nullable timestamp back to a pointer.
func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
