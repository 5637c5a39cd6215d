package procedure_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/database/dbtest"
	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/mapping"
	"github.com/koustreak/sproc/internal/procedure"
)

func TestMultiple_Users(t *testing.T) {
	p := dbtest.New(dbtest.Returning(usersTable))
	exec := procedure.New(p)

	users, err := procedure.Multiple[User](context.Background(), exec, "sp_GetUsers", nil)
	require.NoError(t, err)
	assert.Equal(t, []User{{Id: 1, Name: "Alice"}, {Id: 2, Name: "Bob"}}, users)
	assert.Equal(t, database.ModeReader, p.Calls()[0].Mode)
	assertNoLeaks(t, p)
}

func TestMultiple_ZeroRowsIsNil(t *testing.T) {
	for name, sets := range map[string][]dbtest.Set{
		"no result set": nil,
		"empty set":     {dbtest.Table([]string{"Id", "Name"})},
	} {
		t.Run(name, func(t *testing.T) {
			p := dbtest.New(dbtest.Returning(sets...))
			users, err := procedure.Multiple[User](context.Background(), procedure.New(p), "sp_GetUsers", nil)
			require.NoError(t, err)
			assert.Nil(t, users)
			assertNoLeaks(t, p)
		})
	}
}

func TestMultiple_OnlyFirstResultSet(t *testing.T) {
	p := dbtest.New(dbtest.Returning(usersTable, dbtest.Table([]string{"Id", "Name"}, []any{int64(9), "Zed"})))

	users, err := procedure.Multiple[User](context.Background(), procedure.New(p), "sp_GetUsers", nil)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestMultiple_PointerTarget(t *testing.T) {
	p := dbtest.New(dbtest.Returning(usersTable))

	users, err := procedure.Multiple[*User](context.Background(), procedure.New(p), "sp_GetUsers", nil)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, &User{Id: 2, Name: "Bob"}, users[1])
	assert.NotSame(t, users[0], users[1])
}

func TestMultiple_CustomMapper(t *testing.T) {
	p := dbtest.New(dbtest.Returning(usersTable))

	names, err := procedure.Multiple(context.Background(), procedure.New(p), "sp_GetUsers",
		func(row *mapping.Row) (string, error) {
			v, _ := row.Value("name")
			return v.(string), nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, names)
}

func TestMultiple_MapperErrorStops(t *testing.T) {
	boom := errors.New("boom")
	p := dbtest.New(dbtest.Returning(usersTable))
	seen := 0

	_, err := procedure.Multiple(context.Background(), procedure.New(p), "sp_GetUsers",
		func(*mapping.Row) (User, error) {
			seen++
			return User{}, boom
		})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, seen)
	assertNoLeaks(t, p)
}

func TestMultiple_ConstructionError(t *testing.T) {
	p := dbtest.New(dbtest.Returning(usersTable))

	_, err := procedure.Multiple[int](context.Background(), procedure.New(p), "sp_GetUsers", nil)
	assert.True(t, errs.IsConstruction(err))
	assertNoLeaks(t, p)
}

func TestMultiple_StrictMapper(t *testing.T) {
	type Account struct {
		Id    int
		Email string
	}
	p := dbtest.New(dbtest.Returning(usersTable))

	permissive := procedure.New(p)
	accounts, err := procedure.Multiple[Account](context.Background(), permissive, "sp_GetUsers", nil)
	require.NoError(t, err)
	assert.Equal(t, []Account{{Id: 1}, {Id: 2}}, accounts)

	strict := procedure.New(p, procedure.WithMapper(mapping.NewMapper(mapping.PolicyStrict)))
	_, err = procedure.Multiple[Account](context.Background(), strict, "sp_GetUsers", nil)
	assert.True(t, errs.IsUnmappable(err))
	assertNoLeaks(t, p)
}

func TestSingle(t *testing.T) {
	alice := dbtest.Table([]string{"Id", "Name"}, []any{int64(1), "Alice"})

	tests := []struct {
		name    string
		sets    []dbtest.Set
		want    *User
		checkFn func(error) bool
	}{
		{name: "zero rows", sets: []dbtest.Set{dbtest.Table([]string{"Id", "Name"})}, want: nil},
		{name: "no result set", sets: nil, want: nil},
		{name: "one row", sets: []dbtest.Set{alice}, want: &User{Id: 1, Name: "Alice"}},
		{name: "two rows", sets: []dbtest.Set{usersTable}, checkFn: errs.IsMultipleResults},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := dbtest.New(dbtest.Returning(tt.sets...))
			user, err := procedure.Single[User](context.Background(), procedure.New(p), "sp_GetUser", nil, "p_id", 1)

			if tt.checkFn != nil {
				assert.True(t, tt.checkFn(err))
				assert.Nil(t, user)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, user)
			}
			assertNoLeaks(t, p)
		})
	}
}

func TestSingle_OddParams(t *testing.T) {
	p := dbtest.New(dbtest.Returning(usersTable))

	_, err := procedure.Single[User](context.Background(), procedure.New(p), "sp_GetUser", nil, "p_id")
	assert.True(t, errs.IsParameterCount(err))
	assert.Zero(t, p.Acquired())
}

func TestScalar(t *testing.T) {
	scalar := func(v any) *dbtest.Provider {
		return dbtest.New(dbtest.Returning(dbtest.Table([]string{"count"}, []any{v})))
	}
	ctx := context.Background()

	n, err := procedure.Scalar[int](ctx, procedure.New(scalar(42)), "sp_CountUsers")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = procedure.Scalar[int](ctx, procedure.New(scalar("42")), "sp_CountUsers")
	assert.True(t, errs.IsInvalidCast(err))

	wide, err := procedure.Scalar[int64](ctx, procedure.New(scalar(int32(42))), "sp_CountUsers")
	require.NoError(t, err)
	assert.Equal(t, int64(42), wide)

	_, err = procedure.Scalar[int8](ctx, procedure.New(scalar(int64(300))), "sp_CountUsers")
	assert.True(t, errs.IsInvalidCast(err))

	s, err := procedure.Scalar[string](ctx, procedure.New(scalar("ok")), "sp_Status")
	require.NoError(t, err)
	assert.Equal(t, "ok", s)
}

func TestScalar_Null(t *testing.T) {
	ctx := context.Background()
	null := dbtest.New(dbtest.Returning(dbtest.Table([]string{"count"}, []any{nil})))
	empty := dbtest.New(dbtest.Returning(dbtest.Table([]string{"count"})))

	_, err := procedure.Scalar[int](ctx, procedure.New(null), "sp_CountUsers")
	assert.True(t, errs.IsInvalidCast(err))

	_, err = procedure.Scalar[int](ctx, procedure.New(empty), "sp_CountUsers")
	assert.True(t, errs.IsInvalidCast(err))

	p, err := procedure.Scalar[*int](ctx, procedure.New(null), "sp_CountUsers")
	require.NoError(t, err)
	assert.Nil(t, p)

	assertNoLeaks(t, null)
	assertNoLeaks(t, empty)
}

func TestScalar_Mode(t *testing.T) {
	p := dbtest.New(dbtest.Returning(dbtest.Table([]string{"count"}, []any{int64(1)})))

	_, err := procedure.Scalar[int64](context.Background(), procedure.New(p), "sp_CountUsers", "p_active", true)
	require.NoError(t, err)
	assert.Equal(t, database.ModeScalar, p.Calls()[0].Mode)
	assert.Equal(t, []database.Param{{Name: "p_active", Value: true}}, p.Calls()[0].Params)
}

func TestIdempotentMapping(t *testing.T) {
	p := dbtest.New(dbtest.Returning(usersTable))
	exec := procedure.New(p)

	first, err := procedure.Multiple[User](context.Background(), exec, "sp_GetUsers", nil)
	require.NoError(t, err)
	second, err := procedure.Multiple[User](context.Background(), exec, "sp_GetUsers", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
