package domain

import (
	"bytes"
	"encoding/json"
)

// Value is a decoded SCALE value: nil, bool, string, uint64, int64,
// []any or Object. 64-bit and wider integers are decimal strings.
type Value = any

// Member is one named field of an Object.
type Member struct {
	Name  string
	Value Value
}

// Object is a struct or enum payload with field order preserved.
type Object []Member

// Get returns the value of the first member called name.
func (o Object) Get(name string) (Value, bool) {
	for _, m := range o {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes members in declaration order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(m.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
