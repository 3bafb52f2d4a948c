package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

// Value is a decoded attribute value. Exactly one accessor matches its Kind;
// the others report false.
type Value struct {
	kind  DataType
	null  bool
	str   string
	num   int64
	dec   float64
	flag  bool
	when  time.Time
	doc   any
	items []Value
}

func (v Value) Kind() DataType { return v.kind }
func (v Value) IsNull() bool { return v.null }
func (v Value) IsArray() bool { return v.items != nil }
func (v Value) Items() []Value { return v.items }

func (v Value) Text() (string, bool) {
	return v.str, v.kind == TypeString && !v.null && v.items == nil
}

func (v Value) Int() (int64, bool) {
	return v.num, v.kind == TypeInteger && !v.null && v.items == nil
}

func (v Value) Decimal() (float64, bool) {
	return v.dec, v.kind == TypeDecimal && !v.null && v.items == nil
}

func (v Value) Bool() (bool, bool) {
	return v.flag, v.kind == TypeBoolean && !v.null && v.items == nil
}

func (v Value) Date() (time.Time, bool) {
	return v.when, v.kind == TypeDate && !v.null && v.items == nil
}

func (v Value) DateTime() (time.Time, bool) {
	return v.when, v.kind == TypeDateTime && !v.null && v.items == nil
}

func (v Value) Enum() (string, bool) {
	return v.str, v.kind == TypeEnum && !v.null && v.items == nil
}

func (v Value) JSON() (any, bool) {
	return v.doc, v.kind == TypeJSON && !v.null && v.items == nil
}

// Raw converts the value back into its JSON document form.
func (v Value) Raw() any {
	if v.null {
		return nil
	}
	if v.items != nil {
		out := make([]any, 0, len(v.items))
		for _, item := range v.items {
			out = append(out, item.Raw())
		}
		return out
	}
	switch v.kind {
	case TypeString, TypeEnum:
		return v.str
	case TypeInteger:
		return v.num
	case TypeDecimal:
		return v.dec
	case TypeBoolean:
		return v.flag
	case TypeDate:
		return v.when.Format(dateLayout)
	case TypeDateTime:
		return v.when.Format(time.RFC3339)
	}
	return v.doc
}

// Decode converts a raw JSON value into the tagged union for attr.
func Decode(attr AttributeDescriptor, raw any) (Value, error) {
	if raw == nil {
		return Value{kind: attr.DataType, null: true}, nil
	}
	if attr.IsArray {
		list, ok := raw.([]any)
		if !ok {
			return Value{}, fmt.Errorf("attribute %q must be an array", attr.Code)
		}
		items := make([]Value, 0, len(list))
		scalar := attr
		scalar.IsArray = false
		for i, item := range list {
			v, err := Decode(scalar, item)
			if err != nil {
				return Value{}, fmt.Errorf("attribute %q[%d]: %w", attr.Code, i, err)
			}
			items = append(items, v)
		}
		return Value{kind: attr.DataType, items: items}, nil
	}

	switch attr.DataType {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, typeErr(attr, raw)
		}
		return Value{kind: TypeString, str: s}, nil
	case TypeInteger:
		n, ok := toInt(raw)
		if !ok {
			return Value{}, typeErr(attr, raw)
		}
		return Value{kind: TypeInteger, num: n}, nil
	case TypeDecimal:
		f, ok := toFloat(raw)
		if !ok {
			return Value{}, typeErr(attr, raw)
		}
		return Value{kind: TypeDecimal, dec: f}, nil
	case TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, typeErr(attr, raw)
		}
		return Value{kind: TypeBoolean, flag: b}, nil
	case TypeDate:
		s, ok := raw.(string)
		if !ok {
			return Value{}, typeErr(attr, raw)
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Value{}, fmt.Errorf("attribute %q: invalid DATE %q", attr.Code, s)
		}
		return Value{kind: TypeDate, when: t}, nil
	case TypeDateTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, typeErr(attr, raw)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Value{}, fmt.Errorf("attribute %q: invalid DATETIME %q", attr.Code, s)
		}
		return Value{kind: TypeDateTime, when: t}, nil
	case TypeEnum:
		s, ok := raw.(string)
		if !ok {
			return Value{}, typeErr(attr, raw)
		}
		if len(attr.EnumOptions) > 0 && !attr.HasEnumOption(s) {
			return Value{}, fmt.Errorf("attribute %q: %q is not an allowed option", attr.Code, s)
		}
		return Value{kind: TypeEnum, str: s}, nil
	case TypeJSON:
		return Value{kind: TypeJSON, doc: raw}, nil
	}
	return Value{}, fmt.Errorf("attribute %q: unsupported data_type %q", attr.Code, attr.DataType)
}

func typeErr(attr AttributeDescriptor, raw any) error {
	return fmt.Errorf("attribute %q: expected %s, got %T", attr.Code, attr.DataType, raw)
}

func toInt(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
