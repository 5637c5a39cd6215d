package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/database/dbtest"
	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/filestore/memstore"
	"github.com/koustreak/sproc/internal/logger"
	"github.com/koustreak/sproc/internal/procedure"
)

var users = dbtest.Table([]string{"Id", "Name"},
	[]any{int64(1), "Alice"},
	[]any{int64(2), "Bob"},
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestServer(t *testing.T, p *dbtest.Provider, opts ...Option) http.Handler {
	t.Helper()
	return New(procedure.New(p), opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	kind, _ := e["kind"].(string)
	return kind
}

func TestHealth(t *testing.T) {
	p := dbtest.New(nil)
	h := newTestServer(t, p)

	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	p.PingErr = errs.New(errs.ErrKindConnectionFailed, "down")
	rec, body = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestCall_DefaultShapeIsDataSet(t *testing.T) {
	h := newTestServer(t, dbtest.New(dbtest.Returning(users)))

	rec, body := do(t, h, http.MethodPost, "/procedures/sp_get_users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "dataset", body["shape"])
	assert.Equal(t, "sp_get_users", body["procedure"])

	ds := body["dataset"].(map[string]any)
	tables := ds["tables"].([]any)
	require.Len(t, tables, 1)
	assert.Equal(t, []any{"Id", "Name"}, tables[0].(map[string]any)["columns"])
}

func TestCall_Shapes(t *testing.T) {
	p := dbtest.New(func(call *database.Call) dbtest.Result {
		switch call.Mode {
		case database.ModeExec:
			return dbtest.Result{Affected: 4}
		case database.ModeScalar:
			return dbtest.Result{Sets: []dbtest.Set{dbtest.Table([]string{"n"}, []any{int64(42)})}}
		default:
			return dbtest.Result{Sets: []dbtest.Set{users}}
		}
	})
	h := newTestServer(t, p)

	_, body := do(t, h, http.MethodPost, "/procedures/sp_purge", `{"shape":"exec"}`)
	assert.Equal(t, float64(4), body["rows_affected"])

	_, body = do(t, h, http.MethodPost, "/procedures/sp_count", `{"shape":"scalar"}`)
	assert.Equal(t, float64(42), body["value"])

	_, body = do(t, h, http.MethodPost, "/procedures/sp_get_users", `{"shape":"table"}`)
	assert.Equal(t, []any{[]any{float64(1), "Alice"}, []any{float64(2), "Bob"}}, body["table"].(map[string]any)["rows"])

	_, body = do(t, h, http.MethodPost, "/procedures/sp_get_users", `{"shape":"rows"}`)
	assert.Equal(t, []any{
		map[string]any{"Id": float64(1), "Name": "Alice"},
		map[string]any{"Id": float64(2), "Name": "Bob"},
	}, body["rows"])

	rec, body := do(t, h, http.MethodPost, "/procedures/sp_get_users", `{"shape":"single"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "multiple_results", errorKind(body))

	assertEqualLeaks(t, p)
}

func TestCall_SingleRow(t *testing.T) {
	p := dbtest.New(dbtest.Returning(dbtest.Table([]string{"Id", "Name"}, []any{int64(7), "Grace"})))
	h := newTestServer(t, p)

	rec, body := do(t, h, http.MethodPost, "/procedures/sp_get_user", `{"shape":"single","params":{"p_id":7}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"Id": float64(7), "Name": "Grace"}, body["row"])
}

func TestCall_ObjectParamsSortedAndTyped(t *testing.T) {
	p := dbtest.New(dbtest.Returning(users))
	h := newTestServer(t, p)

	rec, _ := do(t, h, http.MethodPost, "/procedures/sp_search",
		`{"params":{"p_limit":10,"p_active":true,"p_ratio":0.5,"p_name":"A%","p_note":null}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []database.Param{
		{Name: "p_active", Value: true},
		{Name: "p_limit", Value: int64(10)},
		{Name: "p_name", Value: "A%"},
		{Name: "p_note", Value: nil},
		{Name: "p_ratio", Value: 0.5},
	}, calls[0].Params)
}

func TestCall_ArrayParamsVerbatim(t *testing.T) {
	p := dbtest.New(dbtest.Returning(users))
	h := newTestServer(t, p)

	rec, _ := do(t, h, http.MethodPost, "/procedures/sp_search", `{"params":["p_z",1,"p_a",2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p_z", "p_a"}, p.Calls()[0].Names())
}

func TestCall_Errors(t *testing.T) {
	tests := []struct {
		name   string
		result dbtest.Result
		body   string
		status int
		kind   string
	}{
		{name: "odd params", body: `{"params":["p_id"]}`, status: http.StatusBadRequest, kind: "parameter_count"},
		{name: "bad name", body: `{"params":[1,2]}`, status: http.StatusBadRequest, kind: "invalid_input"},
		{name: "bad json", body: `{"params":`, status: http.StatusBadRequest, kind: "invalid_input"},
		{name: "unknown field", body: `{"parms":{}}`, status: http.StatusBadRequest, kind: "invalid_input"},
		{name: "scalar params", body: `{"params":5}`, status: http.StatusBadRequest, kind: "invalid_input"},
		{name: "unknown shape", body: `{"shape":"cube"}`, status: http.StatusBadRequest, kind: "invalid_input"},
		{
			name:   "ambiguous table",
			result: dbtest.Result{Sets: []dbtest.Set{users, users}},
			body:   `{"shape":"table"}`,
			status: http.StatusConflict,
			kind:   "ambiguous_result",
		},
		{
			name:   "null value in dataset",
			result: dbtest.Result{Sets: []dbtest.Set{dbtest.Table([]string{"n"}, []any{nil})}},
			body:   `{"shape":"dataset"}`,
			status: http.StatusOK,
		},
		{
			name:   "not found",
			result: dbtest.Result{Err: errs.New(errs.ErrKindNotFound, "no such procedure")},
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:   "permission",
			result: dbtest.Result{Err: errs.New(errs.ErrKindPermissionDenied, "denied")},
			status: http.StatusForbidden,
			kind:   "permission_denied",
		},
		{
			name:   "timeout",
			result: dbtest.Result{Err: errs.Wrap(errs.ErrKindTimeout, "slow", context.DeadlineExceeded)},
			status: http.StatusGatewayTimeout,
			kind:   "timeout",
		},
		{
			name:   "connection",
			result: dbtest.Result{Err: errs.New(errs.ErrKindConnectionFailed, "refused")},
			status: http.StatusBadGateway,
			kind:   "connection_failed",
		},
		{
			name:   "unclassified",
			result: dbtest.Result{Err: errors.New("boom")},
			status: http.StatusInternalServerError,
			kind:   "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.result
			p := dbtest.New(func(*database.Call) dbtest.Result { return res })
			rec, body := do(t, newTestServer(t, p), http.MethodPost, "/procedures/sp", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, errorKind(body))
			}
			assertEqualLeaks(t, p)
		})
	}
}

func TestCall_ScalarEmpty(t *testing.T) {
	p := dbtest.New(dbtest.Returning(dbtest.Table([]string{"n"})))
	rec, body := do(t, newTestServer(t, p), http.MethodPost, "/procedures/sp_count", `{"shape":"scalar"}`)

	require.Equal(t, http.StatusOK, rec.Code, "an absent scalar is null for an untyped gateway")
	_, present := body["value"]
	assert.False(t, present)
}

func TestCall_BodyTooLarge(t *testing.T) {
	p := dbtest.New(nil)
	h := newTestServer(t, p, WithMaxBodyBytes(16))

	rec, body := do(t, h, http.MethodPost, "/procedures/sp", `{"params":{"p_text":"far too long for the limit"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", errorKind(body))
	assert.Zero(t, p.Acquired())
}

func TestCall_Export(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.EnsureBucket(context.Background(), "exports"))
	buf := &bytes.Buffer{}
	h := newTestServer(t, dbtest.New(dbtest.Returning(users)),
		WithExport(store, "exports", time.Minute),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(logger.New(&logger.Config{Level: "info", Output: buf})))

	rec, body := do(t, h, http.MethodPost, "/procedures/sp_get_users?export=1", `{"shape":"table"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	exp := body["export"].(map[string]any)
	key := "procedures/sp_get_users/20240102T030405.000Z.json"
	assert.Equal(t, key, exp["key"])
	assert.Equal(t, "exports", exp["bucket"])
	assert.Contains(t, exp["url"], key)

	stored, ok := store.Object("exports", key)
	require.True(t, ok)
	assert.JSONEq(t, `{"tables":[{"columns":["Id","Name"],"rows":[[1,"Alice"],[2,"Bob"]]}]}`, string(stored))

	entries := logEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0]["message"], "exported sp_get_users to exports/"+key)
}

func TestCall_ExportRejected(t *testing.T) {
	h := newTestServer(t, dbtest.New(dbtest.Returning(users)))
	rec, body := do(t, h, http.MethodPost, "/procedures/sp_get_users?export=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"].(map[string]any)["message"], "not configured")

	store := memstore.New()
	h = newTestServer(t, dbtest.New(dbtest.Returning(users)), WithExport(store, "exports", time.Minute))
	rec, _ = do(t, h, http.MethodPost, "/procedures/sp_get_users?export=1", `{"shape":"rows"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutes(t *testing.T) {
	h := newTestServer(t, dbtest.New(nil))

	rec, body := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorKind(body))

	req := httptest.NewRequest(http.MethodGet, "/procedures/sp", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRequestLog(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "info", Output: buf})
	h := newTestServer(t, dbtest.New(nil), WithLogger(log))

	do(t, h, http.MethodGet, "/healthz", "")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["message"])
	assert.Equal(t, "/healthz", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
}

func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestRequestLog_SharesRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "info", Output: buf})
	p := dbtest.New(dbtest.Failing(errs.New(errs.ErrKindQueryFailed, "boom")))
	h := newTestServer(t, p, WithLogger(log))

	rec, _ := do(t, h, http.MethodPost, "/procedures/sp_fail", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "procedure request failed", entries[0]["message"])
	assert.Equal(t, "error", entries[0]["level"])
	assert.Contains(t, entries[0]["error"], "boom")
	assert.Equal(t, "http request", entries[1]["message"])

	id := entries[1]["request_id"]
	assert.NotEmpty(t, id)
	assert.Equal(t, id, entries[0]["request_id"])
}

func TestRequestLog_HealthFailureWarns(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "warn", Output: buf})
	p := dbtest.New(nil)
	p.PingErr = errs.New(errs.ErrKindConnectionFailed, "down")
	h := newTestServer(t, p, WithLogger(log))

	do(t, h, http.MethodGet, "/healthz", "")

	entries := logEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "health check failed", entries[0]["message"])
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Contains(t, entries[0]["error"], "down")
}

func TestDecodeParams(t *testing.T) {
	params, err := decodeParams(json.RawMessage(`{"b":[1,2.5],"a":{"x":3}}`))
	require.NoError(t, err)
	assert.Equal(t, []any{"a", map[string]any{"x": int64(3)}, "b", []any{int64(1), 2.5}}, params)

	params, err = decodeParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)

	params, err = decodeParams(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, params)

	params, err = decodeParams(json.RawMessage(`{"big":12345678901234567890}`))
	require.NoError(t, err)
	assert.IsType(t, float64(0), params[1])
}

func assertEqualLeaks(t *testing.T, p *dbtest.Provider) {
	t.Helper()
	assert.Equal(t, p.Acquired(), p.Released())
	assert.Zero(t, p.OpenRows())
}
