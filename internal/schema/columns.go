package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Column struct {
	Name string
	Spec ColumnSpec
}

// Columns is the ordered column mapping of a table. It serializes as a JSON
// object keyed by column name, preserving order.
type Columns []Column

func (cs Columns) Names() []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}

func (cs Columns) Get(name string) (ColumnSpec, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c.Spec, true
		}
	}
	return ColumnSpec{}, false
}

func (cs Columns) Has(name string) bool {
	_, ok := cs.Get(name)
	return ok
}

// With returns a copy with name set to spec, appending when name is new.
func (cs Columns) With(name string, spec ColumnSpec) Columns {
	out := make(Columns, 0, len(cs)+1)
	replaced := false
	for _, c := range cs {
		if c.Name == name {
			c.Spec = spec
			replaced = true
		}
		out = append(out, c)
	}
	if !replaced {
		out = append(out, Column{Name: name, Spec: spec})
	}
	return out
}

// Renamed returns a copy with oldName replaced by newName in place.
func (cs Columns) Renamed(oldName, newName string) Columns {
	out := make(Columns, len(cs))
	for i, c := range cs {
		if c.Name == oldName {
			c.Name = newName
		}
		out[i] = c
	}
	return out
}

func (cs Columns) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range cs {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, c.Name)
		buf.WriteByte(':')
		spec, err := json.Marshal(c.Spec)
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", c.Name, err)
		}
		buf.Write(spec)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (cs *Columns) UnmarshalJSON(data []byte) error {
	var out Columns
	err := decodeObject(data, func(key string, value json.RawMessage) error {
		var spec ColumnSpec
		if err := json.Unmarshal(value, &spec); err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		out = out.With(key, spec)
		return nil
	})
	if err != nil {
		return err
	}
	*cs = out
	return nil
}
