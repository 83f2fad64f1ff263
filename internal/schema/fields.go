package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Field struct {
	Name  string
	Value *string
}

// Fields holds one row's values in column order. A nil Value is a null cell.
type Fields []Field

func (f Fields) Get(name string) (*string, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Text returns the value of name, or "" when the key is missing or null.
func (f Fields) Text(name string) string {
	v, _ := f.Get(name)
	if v == nil {
		return ""
	}
	return *v
}

// Set replaces the value of name or appends it when absent. The receiver is
// not modified.
func (f Fields) Set(name string, value *string) Fields {
	out := make(Fields, 0, len(f)+1)
	replaced := false
	for _, field := range f {
		if field.Name == name {
			field.Value = value
			replaced = true
		}
		out = append(out, field)
	}
	if !replaced {
		out = append(out, Field{Name: name, Value: value})
	}
	return out
}

// Rename moves the value stored under oldName to newName in place.
func (f Fields) Rename(oldName, newName string) Fields {
	out := make(Fields, len(f))
	for i, field := range f {
		if field.Name == oldName {
			field.Name = newName
		}
		out[i] = field
	}
	return out
}

// Map is the template friendly view of a row.
func (f Fields) Map() map[string]*string {
	out := make(map[string]*string, len(f))
	for _, field := range f {
		out[field.Name] = field.Value
	}
	return out
}

// Encode returns the stored serialization of the row. Text filters match
// against exactly these bytes.
func (f Fields) Encode() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, field.Name)
		buf.WriteByte(':')
		if field.Value == nil {
			buf.WriteString("null")
			continue
		}
		writeJSONString(&buf, *field.Value)
	}
	buf.WriteByte('}')
	return buf.String()
}

func (f Fields) MarshalJSON() ([]byte, error) {
	return []byte(f.Encode()), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	var out Fields
	err := decodeObject(data, func(key string, value json.RawMessage) error {
		var v *string
		if err := json.Unmarshal(value, &v); err != nil {
			// numbers and booleans keep their literal text
			raw := string(bytes.TrimSpace(value))
			if len(raw) == 0 || raw[0] == '{' || raw[0] == '[' {
				return fmt.Errorf("field %q: %w", key, err)
			}
			v = &raw
		}
		out = out.Set(key, v)
		return nil
	})
	if err != nil {
		return err
	}
	*f = out
	return nil
}

// DecodeFields parses a stored row serialization.
func DecodeFields(s string) (Fields, error) {
	var f Fields
	if err := f.UnmarshalJSON([]byte(s)); err != nil {
		return nil, fmt.Errorf("decode row fields: %w", err)
	}
	return f, nil
}

func Ptr(s string) *string {
	return &s
}
