package perfmon

import (
	"encoding/json"
	"math"
	"strconv"
)

// Number is a sample value holding either an int64 or a float64.
// Params: none; build with Int or Float.
// Returns: immutable numeric value.
type Number struct {
	i       int64
	f       float64
	isFloat bool
}

// Int wraps an integer value.
func Int(v int64) Number {
	return Number{i: v}
}

// Float wraps a floating-point value.
func Float(v float64) Number {
	return Number{f: v, isFloat: true}
}

// IsFloat reports whether the value is a float64.
func (n Number) IsFloat() bool {
	return n.isFloat
}

// Int64 returns the value as int64, truncating floats.
func (n Number) Int64() int64 {
	if n.isFloat {
		return int64(n.f)
	}
	return n.i
}

// Float64 returns the value as float64.
func (n Number) Float64() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

// Any returns the underlying int64 or float64.
func (n Number) Any() any {
	if n.isFloat {
		return n.f
	}
	return n.i
}

// String renders the value without exponent for integers.
func (n Number) String() string {
	if n.isFloat {
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	}
	return strconv.FormatInt(n.i, 10)
}

// MarshalJSON encodes the value as a JSON number.
func (n Number) MarshalJSON() ([]byte, error) {
	if n.isFloat {
		return json.Marshal(n.f)
	}
	return []byte(strconv.FormatInt(n.i, 10)), nil
}

// sub returns n - other, staying integral when both are integers and the result fits int64.
func (n Number) sub(other Number) Number {
	if !n.isFloat && !other.isFloat {
		diff := n.i - other.i
		// Operands of different signs overflow when the result sign differs from n.
		if (n.i^other.i)&(n.i^diff) >= 0 {
			return Int(diff)
		}
	}
	return Float(n.Float64() - other.Float64())
}

// mulInt returns a * b and false when the product does not fit int64.
func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	product := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || product/b != a {
		return 0, false
	}
	return product, true
}

// less reports n < other.
func (n Number) less(other Number) bool {
	if !n.isFloat && !other.isFloat {
		return n.i < other.i
	}
	return n.Float64() < other.Float64()
}

// ToNumber converts a raw attribute value to a Number.
// Params: v raw reading value of any type.
// Returns: number and true for Go integer and finite float kinds; false otherwise.
func ToNumber(v any) (Number, bool) {
	switch value := v.(type) {
	case int:
		return Int(int64(value)), true
	case int8:
		return Int(int64(value)), true
	case int16:
		return Int(int64(value)), true
	case int32:
		return Int(int64(value)), true
	case int64:
		return Int(value), true
	case uint:
		return fromUint(uint64(value)), true
	case uint8:
		return Int(int64(value)), true
	case uint16:
		return Int(int64(value)), true
	case uint32:
		return Int(int64(value)), true
	case uint64:
		return fromUint(value), true
	case float32:
		return finiteFloat(float64(value))
	case float64:
		return finiteFloat(value)
	case Number:
		return value, true
	default:
		return Number{}, false
	}
}

func fromUint(v uint64) Number {
	if v > math.MaxInt64 {
		return Float(float64(v))
	}
	return Int(int64(v))
}

func finiteFloat(v float64) (Number, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{}, false
	}
	return Float(v), true
}
