package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gemini/pkg/domain"
)

// Args carries column values for writes and equality filters.
type Args map[string]any

// Row is one scanned row keyed by column name. Values are normalised per
// column type: string (text, uuid), int64, float64, bool, time.Time (UTC),
// json.RawMessage, or nil for NULL.
type Row map[string]any

// Keep wraps an Args value that ValidateFields must not drop as empty, such
// as a JSON bag whose last key was removed.
type Keep struct{ Value any }

// Range is an inclusive bound on one column; a nil side is open.
type Range struct {
	From any
	To   any
}

// Filter is a conjunctive query: equality per column (containment for JSON
// columns), inclusive ranges, and an optional row limit.
type Filter struct {
	Equal  Args
	Ranges map[string]Range
	Limit  int
}

// ID returns the id value of the row under the conventional "id" column.
func (r Row) ID() any { return r["id"] }

// String returns the value of a text or uuid column, or "" when NULL.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value of an integer column.
func (r Row) Int(col string) (int64, bool) {
	v, ok := r[col].(int64)
	return v, ok
}

// Float returns the value of a float column.
func (r Row) Float(col string) (float64, bool) {
	switch v := r[col].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the value of a boolean column.
func (r Row) Bool(col string) (bool, bool) {
	v, ok := r[col].(bool)
	return v, ok
}

// Time returns the value of a timestamp or date column.
func (r Row) Time(col string) (time.Time, bool) {
	v, ok := r[col].(time.Time)
	return v, ok
}

// JSON returns the raw JSON of a JSON column.
func (r Row) JSON(col string) json.RawMessage {
	v, _ := r[col].(json.RawMessage)
	return v
}

// Info decodes a JSON object column into an ordered bag.
func (r Row) Info(col string) (*domain.Info, error) {
	return domain.ParseInfo(r.JSON(col))
}

// isEmpty reports whether v should be dropped by ValidateFields.
func isEmpty(c Column, v any) bool {
	if v == nil {
		return true
	}
	if c.Type != TypeJSON {
		return false
	}
	switch j := v.(type) {
	case map[string]any:
		return len(j) == 0
	case *domain.Info:
		return j.Len() == 0
	case json.RawMessage:
		return isEmptyJSONText(j)
	case []byte:
		return isEmptyJSONText(j)
	case string:
		return isEmptyJSONText([]byte(j))
	}
	return false
}

func isEmptyJSONText(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, []byte("{}")) || bytes.Equal(t, []byte("null"))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	domain.DateLayout,
}

// ParseTime parses the timestamp layouts accepted from callers and stores.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// Coerce converts v to the driver value stored in column c. JSON values
// become JSON text; times become UTC (dates truncated to the day); uuids
// become their canonical string.
func Coerce(c Column, v any) (any, error) {
	switch c.Type {
	case TypeText:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		case fmt.Stringer:
			return s.String(), nil
		}
	case TypeInt:
		return toInt64(v)
	case TypeFloat:
		return toFloat64(v)
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		}
	case TypeTimestamp, TypeDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		if c.Type == TypeDate {
			return domain.CollectionDate(t), nil
		}
		return t, nil
	case TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case [16]byte:
			return uuid.UUID(u).String(), nil
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return nil, err
			}
			return parsed.String(), nil
		}
	case TypeJSON:
		return toJSONText(v)
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, c.Type)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("non-integral value %v", n)
		}
		return int64(n), nil
	case float32:
		return toInt64(float64(n))
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	}
	return 0, fmt.Errorf("cannot store %T as int", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot store %T as float", v)
	}
	return float64(i), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return t.UTC(), nil
	case string:
		return ParseTime(t)
	}
	return time.Time{}, fmt.Errorf("cannot store %T as time", v)
}

func toJSONText(v any) (string, error) {
	switch j := v.(type) {
	case json.RawMessage:
		if !json.Valid(j) {
			return "", fmt.Errorf("invalid JSON")
		}
		return string(j), nil
	case []byte:
		if !json.Valid(j) {
			return "", fmt.Errorf("invalid JSON")
		}
		return string(j), nil
	case string:
		if !json.Valid([]byte(j)) {
			return "", fmt.Errorf("invalid JSON")
		}
		return j, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// asObject returns v as a plain object for containment filters.
func asObject(v any) (map[string]any, bool) {
	switch j := v.(type) {
	case map[string]any:
		return j, true
	case *domain.Info:
		return j.Map(), true
	case json.RawMessage, []byte, string:
		var raw []byte
		switch b := j.(type) {
		case json.RawMessage:
			raw = b
		case []byte:
			raw = b
		case string:
			raw = []byte(b)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, false
		}
		return m, m != nil
	}
	return nil, false
}

// cell scans one column according to its declared type. Drivers disagree on
// representations (SQLite hands back text for timestamps and integers for
// booleans), so every branch accepts several source types.
type cell struct {
	typ Type
	v   any
}

func (c *cell) Scan(src any) error {
	if src == nil {
		c.v = nil
		return nil
	}
	var err error
	switch c.typ {
	case TypeText:
		switch s := src.(type) {
		case string:
			c.v = s
		case []byte:
			c.v = string(s)
		case time.Time:
			c.v = s.UTC().Format(time.RFC3339Nano)
		default:
			c.v = fmt.Sprint(s)
		}
	case TypeInt:
		switch n := src.(type) {
		case []byte:
			c.v, err = toInt64(string(n))
		case bool:
			c.v = int64(0)
			if n {
				c.v = int64(1)
			}
		default:
			c.v, err = toInt64(n)
		}
	case TypeFloat:
		switch n := src.(type) {
		case []byte:
			c.v, err = toFloat64(string(n))
		default:
			c.v, err = toFloat64(n)
		}
	case TypeBool:
		switch b := src.(type) {
		case bool:
			c.v = b
		case int64:
			c.v = b != 0
		case []byte:
			c.v, err = strconv.ParseBool(string(b))
		case string:
			c.v, err = strconv.ParseBool(b)
		default:
			err = fmt.Errorf("cannot scan %T into bool", src)
		}
	case TypeTimestamp, TypeDate:
		var t time.Time
		switch s := src.(type) {
		case time.Time:
			t = s.UTC()
		case []byte:
			t, err = ParseTime(string(s))
		case string:
			t, err = ParseTime(s)
		default:
			err = fmt.Errorf("cannot scan %T into time", src)
		}
		if c.typ == TypeDate {
			t = domain.CollectionDate(t)
		}
		c.v = t
	case TypeUUID:
		switch u := src.(type) {
		case string:
			c.v = u
		case []byte:
			if len(u) == 16 {
				c.v = uuid.UUID(u).String()
			} else {
				c.v = string(u)
			}
		case [16]byte:
			c.v = uuid.UUID(u).String()
		default:
			c.v = fmt.Sprint(u)
		}
	case TypeJSON:
		switch j := src.(type) {
		case []byte:
			c.v = json.RawMessage(append([]byte(nil), j...))
		case string:
			c.v = json.RawMessage(j)
		default:
			var b []byte
			b, err = json.Marshal(j)
			c.v = json.RawMessage(b)
		}
	default:
		c.v = src
	}
	if err != nil {
		return fmt.Errorf("scan %s column: %w", c.typ, err)
	}
	return nil
}
