package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini/pkg/domain"
)

func TestCoerce(t *testing.T) {
	u := uuid.New()
	ts := time.Date(2023, 10, 1, 14, 30, 0, 0, time.FixedZone("CDT", -5*3600))
	cases := []struct {
		name string
		typ  Type
		in   any
		want any
	}{
		{"text", TypeText, "abc", "abc"},
		{"text stringer", TypeText, u, u.String()},
		{"int from int", TypeInt, 5, int64(5)},
		{"int from float", TypeInt, 7.0, int64(7)},
		{"int from string", TypeInt, " 9 ", int64(9)},
		{"int from json number", TypeInt, json.Number("11"), int64(11)},
		{"float from int", TypeFloat, 3, 3.0},
		{"float from string", TypeFloat, "2.5", 2.5},
		{"bool", TypeBool, true, true},
		{"bool from string", TypeBool, "false", false},
		{"timestamp to utc", TypeTimestamp, ts, ts.UTC()},
		{"timestamp from string", TypeTimestamp, "2023-10-01T19:30:00Z", ts.UTC()},
		{"date truncates", TypeDate, ts, time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"date from string", TypeDate, "2023-10-01", time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"uuid canonical", TypeUUID, "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"uuid value", TypeUUID, u, u.String()},
		{"json map", TypeJSON, map[string]any{"v": 1}, `{"v":1}`},
		{"json info", TypeJSON, domain.NewInfo().Set("b", 1).Set("a", 2), `{"b":1,"a":2}`},
		{"json raw", TypeJSON, json.RawMessage(`{"x":true}`), `{"x":true}`},
		{"json string", TypeJSON, `[1,2]`, `[1,2]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Coerce(Column{Name: "c", Type: tc.typ}, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCoerceRejects(t *testing.T) {
	cases := []struct {
		typ Type
		in  any
	}{
		{TypeInt, 1.5},
		{TypeInt, "x"},
		{TypeText, 12},
		{TypeUUID, "not-a-uuid"},
		{TypeTimestamp, "yesterday"},
		{TypeJSON, "{broken"},
		{TypeBool, 3.2},
	}
	for _, tc := range cases {
		_, err := Coerce(Column{Name: "c", Type: tc.typ}, tc.in)
		assert.Error(t, err, "%s %v", tc.typ, tc.in)
	}
}

func TestIsEmpty(t *testing.T) {
	j := Column{Type: TypeJSON}
	assert.True(t, isEmpty(j, nil))
	assert.True(t, isEmpty(j, map[string]any{}))
	assert.True(t, isEmpty(j, domain.NewInfo()))
	assert.True(t, isEmpty(j, json.RawMessage(" {} ")))
	assert.True(t, isEmpty(j, "null"))
	assert.False(t, isEmpty(j, map[string]any{"a": 1}))
	assert.False(t, isEmpty(Column{Type: TypeText}, ""))
	assert.True(t, isEmpty(Column{Type: TypeText}, nil))
}

func TestCellScan(t *testing.T) {
	scan := func(typ Type, src any) any {
		c := &cell{typ: typ}
		require.NoError(t, c.Scan(src))
		return c.v
	}
	assert.Nil(t, scan(TypeText, nil))
	assert.Equal(t, "abc", scan(TypeText, []byte("abc")))
	assert.Equal(t, int64(4), scan(TypeInt, []byte("4")))
	assert.Equal(t, int64(1), scan(TypeInt, true))
	assert.Equal(t, 1.5, scan(TypeFloat, []byte("1.5")))
	assert.Equal(t, 2.0, scan(TypeFloat, int64(2)))
	assert.Equal(t, true, scan(TypeBool, int64(1)))
	assert.Equal(t, false, scan(TypeBool, "false"))
	assert.Equal(t, time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC), scan(TypeTimestamp, "2023-10-01 12:00:00"))
	assert.Equal(t, time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC), scan(TypeDate, "2023-10-01 00:00:00+00:00"))
	u := uuid.New()
	assert.Equal(t, u.String(), scan(TypeUUID, u[:]))
	assert.Equal(t, u.String(), scan(TypeUUID, u.String()))
	assert.Equal(t, json.RawMessage(`{"a":1}`), scan(TypeJSON, `{"a":1}`))
	assert.JSONEq(t, `{"a":1}`, string(scan(TypeJSON, map[string]any{"a": 1}).(json.RawMessage)))

	bad := &cell{typ: TypeBool}
	assert.Error(t, bad.Scan(2.5))
}

func TestRowAccessors(t *testing.T) {
	now := time.Now().UTC()
	r := Row{
		"id":   "abc",
		"n":    int64(3),
		"f":    1.25,
		"b":    true,
		"t":    now,
		"info": json.RawMessage(`{"z":1,"a":2}`),
		"null": nil,
	}
	assert.Equal(t, "abc", r.ID())
	assert.Equal(t, "abc", r.String("id"))
	assert.Equal(t, "", r.String("null"))
	n, ok := r.Int("n")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
	f, _ := r.Float("n")
	assert.Equal(t, 3.0, f)
	b, _ := r.Bool("b")
	assert.True(t, b)
	tm, _ := r.Time("t")
	assert.Equal(t, now, tm)
	info, err := r.Info("info")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, info.Keys())
	empty, err := r.Info("null")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestErrorFormatting(t *testing.T) {
	err := ValidationError("sites", "create", "site_name", ErrUnknownField)
	assert.Equal(t, "sites create: validation (field=site_name): unknown field", err.Error())
	assert.True(t, IsKind(err, KindValidation))
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.False(t, IsKind(assert.AnError, KindNotFound))
}

func TestDescriptorValidate(t *testing.T) {
	d := &Descriptor{Name: "x", Table: "xs", IDColumn: "id", Columns: []Column{{Name: "id", Type: TypeUUID}, {Name: "name"}}, NaturalKey: []string{"name"}}
	require.NoError(t, d.Validate())
	assert.True(t, d.IsNaturalKey("name"))
	assert.False(t, d.IsNaturalKey("id"))
	assert.Equal(t, "x(id, name)", d.String())

	d.NaturalKey = []string{"missing"}
	assert.Error(t, d.Validate())

	dup := &Descriptor{Name: "y", Table: "ys", IDColumn: "id", Columns: []Column{{Name: "id"}, {Name: "id"}}}
	assert.Error(t, dup.Validate())

	noID := &Descriptor{Name: "z", Table: "zs", IDColumn: "id"}
	assert.Error(t, noID.Validate())
}
