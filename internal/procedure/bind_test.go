package procedure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/errs"
)

func TestBind(t *testing.T) {
	call := &database.Call{Procedure: "sp_get_users"}
	require.NoError(t, Bind(call, "p_active", true, "p_limit", 10))

	assert.Equal(t, []string{"p_active", "p_limit"}, call.Names())
	assert.Equal(t, []any{true, 10}, call.Args())
}

func TestBind_Empty(t *testing.T) {
	call := &database.Call{Procedure: "sp_count_users"}
	require.NoError(t, Bind(call))
	assert.Empty(t, call.Params)
}

func TestBind_OddLength(t *testing.T) {
	for _, params := range [][]any{{"p_id"}, {"p_id", 1, "p_name"}} {
		call := &database.Call{Procedure: "sp_get_user"}
		err := Bind(call, params...)
		assert.True(t, errs.IsParameterCount(err), "%v", params)
		assert.Empty(t, call.Params)
	}
}

func TestBind_BadName(t *testing.T) {
	tests := []struct {
		name   string
		params []any
	}{
		{"non-string", []any{1, "x"}},
		{"empty", []any{"", "x"}},
		{"second pair", []any{"p_id", 1, nil, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := &database.Call{Procedure: "sp"}
			err := Bind(call, tt.params...)
			assert.True(t, errs.IsInvalidInput(err))
			assert.Empty(t, call.Params, "nothing is bound from an invalid list")
		})
	}
}

func TestBind_DuplicateReplacesInPlace(t *testing.T) {
	call := &database.Call{Procedure: "sp"}
	require.NoError(t, Bind(call, "a", 1, "b", 2, "a", 3))

	assert.Equal(t, []string{"a", "b"}, call.Names())
	assert.Equal(t, []any{3, 2}, call.Args())
}

func TestBind_NilValue(t *testing.T) {
	call := &database.Call{Procedure: "sp"}
	require.NoError(t, Bind(call, "p_note", nil))
	assert.Equal(t, []any{nil}, call.Args())
}
