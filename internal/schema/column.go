package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"csvtosql/internal/validation"
)

type ForeignKey struct {
	Table    string   `json:"table"`
	Column   string   `json:"column"`
	OnDelete OnDelete `json:"on_delete"`
}

// ColumnSpec describes one column of an uploaded table.
type ColumnSpec struct {
	DataType      DataType    `json:"data_type"`
	Nullable      bool        `json:"nullable"`
	PrimaryKey    bool        `json:"primary_key"`
	Unique        bool        `json:"unique"`
	AutoIncrement bool        `json:"auto_increment"`
	DefaultValue  *string     `json:"default_value"`
	MaxLength     *int        `json:"max_length"`
	ForeignKey    *ForeignKey `json:"foreign_key"`
}

// NewColumnSpec returns the defaults applied to bare type names: nullable and
// no constraints.
func NewColumnSpec(dt DataType) ColumnSpec {
	return ColumnSpec{DataType: dt, Nullable: true}
}

// columnWire is the stored record. foreign_key is either the nested object or,
// in records written by the first configurable release, the referenced column
// name with the table in foreign_table.
type columnWire struct {
	DataType      string          `json:"data_type"`
	Nullable      *bool           `json:"nullable"`
	PrimaryKey    bool            `json:"primary_key"`
	Unique        bool            `json:"unique"`
	AutoIncrement bool            `json:"auto_increment"`
	DefaultValue  *string         `json:"default_value"`
	MaxLength     *int            `json:"max_length"`
	ForeignKey    json.RawMessage `json:"foreign_key"`
	ForeignTable  *string         `json:"foreign_table"`
	OnDelete      string          `json:"on_delete"`
}

// UnmarshalJSON accepts the canonical record and the legacy bare type string
// ("INTEGER"), upgrading the latter to NewColumnSpec defaults.
func (c *ColumnSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var typeName string
		if err := json.Unmarshal(data, &typeName); err != nil {
			return fmt.Errorf("decode legacy column type: %w", err)
		}
		dt, _ := ParseDataType(typeName)
		*c = NewColumnSpec(dt)
		return nil
	}

	var wire columnWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode column spec: %w", err)
	}
	dt, _ := ParseDataType(wire.DataType)
	spec := ColumnSpec{
		DataType:      dt,
		Nullable:      true,
		PrimaryKey:    wire.PrimaryKey,
		Unique:        wire.Unique,
		AutoIncrement: wire.AutoIncrement,
		DefaultValue:  wire.DefaultValue,
		MaxLength:     wire.MaxLength,
	}
	if wire.Nullable != nil {
		spec.Nullable = *wire.Nullable
	}

	fk, err := decodeForeignKey(wire)
	if err != nil {
		return err
	}
	spec.ForeignKey = fk
	*c = spec
	return nil
}

func decodeForeignKey(wire columnWire) (*ForeignKey, error) {
	raw := bytes.TrimSpace(wire.ForeignKey)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var column string
		if err := json.Unmarshal(raw, &column); err != nil {
			return nil, fmt.Errorf("decode foreign key column: %w", err)
		}
		if column == "" {
			return nil, nil
		}
		fk := &ForeignKey{Column: column, OnDelete: OnDeleteCascade}
		if wire.ForeignTable != nil {
			fk.Table = *wire.ForeignTable
		}
		if action, ok := ParseOnDelete(wire.OnDelete); ok {
			fk.OnDelete = action
		}
		return fk, nil
	}
	var fk ForeignKey
	if err := json.Unmarshal(raw, &fk); err != nil {
		return nil, fmt.Errorf("decode foreign key: %w", err)
	}
	if fk.OnDelete == "" {
		fk.OnDelete = OnDeleteCascade
	}
	return &fk, nil
}

// Validate checks every constraint rule independently and reports all
// violations, keyed by form field.
func (c ColumnSpec) Validate() error {
	var errs validation.Errors
	if !c.DataType.Valid() {
		errs.Add("data_type", fmt.Sprintf("Unsupported data type %q.", c.DataType))
	}
	if c.PrimaryKey && c.Nullable {
		errs.Add("nullable", "Primary key columns cannot be nullable.")
	}
	if c.AutoIncrement && c.DataType != TypeInteger {
		errs.Add("auto_increment", "Auto increment is only allowed for INTEGER columns.")
	}
	if c.AutoIncrement && !c.PrimaryKey {
		errs.Add("auto_increment", "Auto increment requires the column to be a primary key.")
	}
	if fk := c.ForeignKey; fk != nil {
		if strings.TrimSpace(fk.Table) == "" {
			errs.Add("foreign_key_table", "Foreign key requires a referenced table.")
		}
		if strings.TrimSpace(fk.Column) == "" {
			errs.Add("foreign_key_column", "Foreign key requires a referenced column.")
		}
		if fk.OnDelete != "" && !fk.OnDelete.Valid() {
			errs.Add("on_delete", fmt.Sprintf("Unsupported ON DELETE action %q.", fk.OnDelete))
		}
	}
	if c.MaxLength != nil {
		if c.DataType != TypeText {
			errs.Add("max_length", "Max length is only allowed for TEXT columns.")
		}
		if *c.MaxLength <= 0 {
			errs.Add("max_length", "Max length must be a positive integer.")
		}
	}
	if c.DefaultValue != nil && c.DataType.Valid() {
		if err := checkType(c.DataType, *c.DefaultValue); err != nil {
			errs.Add("default_value", "Default value "+err.Error()+".")
		}
	}
	return errs.Err()
}

var ErrNullValue = errors.New("value cannot be null")

// CheckValue reports whether a cell value satisfies the column's type,
// nullability and length constraints.
func (c ColumnSpec) CheckValue(value *string) error {
	if value == nil {
		if !c.Nullable {
			return ErrNullValue
		}
		return nil
	}
	if err := checkType(c.DataType, *value); err != nil {
		return fmt.Errorf("value %s", err)
	}
	if c.MaxLength != nil && utf8.RuneCountInString(*value) > *c.MaxLength {
		return fmt.Errorf("value exceeds max length %d", *c.MaxLength)
	}
	return nil
}

var dateTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04"}

func checkType(dt DataType, value string) error {
	v := strings.TrimSpace(value)
	switch dt {
	case TypeInteger:
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return errors.New("must be an integer")
		}
	case TypeReal:
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return errors.New("must be a number")
		}
	case TypeBoolean:
		if _, ok := ParseBool(v); !ok {
			return errors.New("must be a boolean")
		}
	case TypeDate:
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return errors.New("must be a date (YYYY-MM-DD)")
		}
	case TypeDateTime:
		for _, layout := range dateTimeLayouts {
			if _, err := time.Parse(layout, v); err == nil {
				return nil
			}
		}
		return errors.New("must be a date and time")
	}
	return nil
}

// ParseBool is more permissive than strconv.ParseBool about the spellings
// spreadsheets export.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}
