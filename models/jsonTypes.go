package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DecimalMap stores an account-key -> amount map as a JSON column.
// Keys are AccountRef.Key() strings ("patient:42", "hospital:7", ...).
type DecimalMap map[string]decimal.Decimal

func (m DecimalMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *DecimalMap) Scan(value interface{}) error {
	if value == nil {
		*m = DecimalMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into DecimalMap", value)
	}
	if len(b) == 0 {
		*m = DecimalMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// StringSlice stores a list of strings as a JSON column.
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("cannot scan non-bytes into StringSlice")
	}
	if len(b) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(b, s)
}
