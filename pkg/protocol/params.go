package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one untyped parameter value. Handlers inspect Kind before reading
// the matching field.
type Value struct {
	Kind   Kind
	Str    string
	Num    json.Number
	Bool   bool
	Object map[string]Value
	Array  []Value
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func NullValue() Value           { return Value{Kind: KindNull} }

func NumberValue(n string) Value {
	return Value{Kind: KindNumber, Num: json.Number(n)}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	converted, err := valueOf(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Interface converts v back into the plain encoding/json representation.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindObject:
		m := make(map[string]any, len(v.Object))
		for k, child := range v.Object {
			m[k] = child.Interface()
		}
		return m
	case KindArray:
		a := make([]any, len(v.Array))
		for i, child := range v.Array {
			a[i] = child.Interface()
		}
		return a
	default:
		return nil
	}
}

func valueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(x), nil
	case json.Number:
		return Value{Kind: KindNumber, Num: x}, nil
	case bool:
		return BoolValue(x), nil
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, child := range x {
			cv, err := valueOf(child)
			if err != nil {
				return Value{}, err
			}
			obj[k] = cv
		}
		return Value{Kind: KindObject, Object: obj}, nil
	case []any:
		arr := make([]Value, len(x))
		for i, child := range x {
			cv, err := valueOf(child)
			if err != nil {
				return Value{}, err
			}
			arr[i] = cv
		}
		return Value{Kind: KindArray, Array: arr}, nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value %T", raw)
	}
}

// Params holds the named parameters of a request.
type Params map[string]Value

// String returns the named parameter when it is present and is a JSON string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}
