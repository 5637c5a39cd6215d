package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/filestore"
	"github.com/koustreak/sproc/internal/logger"
	"github.com/koustreak/sproc/internal/mapping"
	"github.com/koustreak/sproc/internal/procedure"
)

// Result shapes accepted in a call request.
const (
	ShapeExec    = "exec"
	ShapeDataSet = "dataset"
	ShapeTable   = "table"
	ShapeRows    = "rows"
	ShapeSingle  = "single"
	ShapeScalar  = "scalar"
)

type callRequest struct {
	// Params is either an object (bound in sorted key order) or an
	// alternating [name, value, ...] array.
	Params json.RawMessage `json:"params"`
	Shape  string          `json:"shape"`
}

type callResponse struct {
	Procedure    string           `json:"procedure"`
	Shape        string           `json:"shape"`
	RowsAffected *int64           `json:"rows_affected,omitempty"`
	DataSet      *mapping.DataSet `json:"dataset,omitempty"`
	Table        *mapping.Table   `json:"table,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	Row          map[string]any   `json:"row,omitempty"`
	Value        any              `json:"value,omitempty"`
	Export       *exportInfo      `json:"export,omitempty"`
}

type exportInfo struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	URL    string `json:"url"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.exec.Ping(r.Context()); err != nil {
		logger.FromContext(r.Context()).With().Err(err).Logger().Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	req, err := s.decodeRequest(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params, err := decodeParams(req.Params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	shape := req.Shape
	if shape == "" {
		shape = ShapeDataSet
	}
	export := r.URL.Query().Get("export")
	wantExport := export == "1" || export == "true"
	if wantExport {
		if s.store == nil {
			s.writeError(w, r, errs.New(errs.ErrKindInvalidInput, "export is not configured"))
			return
		}
		if shape != ShapeDataSet && shape != ShapeTable {
			s.writeError(w, r, errs.Newf(errs.ErrKindInvalidInput, "export needs shape dataset or table, got %q", shape))
			return
		}
	}

	ctx := r.Context()
	logger.FromContext(ctx).Debugf("calling %s as %s with %d parameter(s)", name, shape, len(params)/2)
	resp := &callResponse{Procedure: name, Shape: shape}

	switch shape {
	case ShapeExec:
		var n int64
		n, err = s.exec.Execute(ctx, name, params...)
		resp.RowsAffected = &n
	case ShapeDataSet:
		resp.DataSet, err = s.exec.DataSet(ctx, name, params...)
	case ShapeTable:
		resp.Table, err = s.exec.DataTable(ctx, name, params...)
	case ShapeRows:
		resp.Rows, err = procedure.Multiple(ctx, s.exec, name, record, params...)
	case ShapeSingle:
		var row *map[string]any
		row, err = procedure.Single(ctx, s.exec, name, record, params...)
		if row != nil {
			resp.Row = *row
		}
	case ShapeScalar:
		resp.Value, err = procedure.Scalar[any](ctx, s.exec, name, params...)
	default:
		err = errs.Newf(errs.ErrKindInvalidInput, "unknown shape %q", shape)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if wantExport {
		ds := resp.DataSet
		if shape == ShapeTable {
			ds = &mapping.DataSet{Tables: []*mapping.Table{}}
			if resp.Table != nil {
				ds.Tables = append(ds.Tables, resp.Table)
			}
		}
		resp.Export, err = s.export(r, name, ds)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) export(r *http.Request, name string, ds *mapping.DataSet) (*exportInfo, error) {
	ctx := r.Context()
	info, err := filestore.ExportDataSet(ctx, s.store, s.bucket, name, ds, s.now())
	if err != nil {
		return nil, err
	}
	url, err := s.store.PresignGetURL(ctx, s.bucket, info.Key, s.presignTTL)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infof("exported %s to %s/%s (%d bytes)", name, s.bucket, info.Key, info.Size)
	return &exportInfo{Bucket: s.bucket, Key: info.Key, Size: info.Size, URL: url}, nil
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*callRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "request body exceeds %d bytes", s.maxBody)
		}
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read request body", err)
	}

	req := &callRequest{}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err)
	}
	return req, nil
}

// decodeParams turns the params member into the alternating name/value list
// the executor binds. Numbers become int64 when integral, float64 otherwise.
func decodeParams(raw json.RawMessage) ([]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid params", err)
	}

	switch p := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, 2*len(keys))
		for _, k := range keys {
			out = append(out, k, normalize(p[k]))
		}
		return out, nil
	case []any:
		out := make([]any, len(p))
		for i, e := range p {
			out[i] = normalize(e)
		}
		return out, nil
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "params must be an object or an array, got %T", v)
	}
}

func normalize(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case []any:
		for i := range n {
			n[i] = normalize(n[i])
		}
		return n
	case map[string]any:
		for k := range n {
			n[k] = normalize(n[k])
		}
		return n
	}
	return v
}

func record(row *mapping.Row) (map[string]any, error) {
	return row.Record(), nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorWith("procedure request failed", err, nil)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:    errs.KindOf(err).String(),
		Message: err.Error(),
	}})
}

// statusOf maps an error kind to the HTTP status returned to the client.
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindParameterCount, errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindAmbiguousResult, errs.ErrKindMultipleResults:
		return http.StatusConflict
	case errs.ErrKindInvalidCast, errs.ErrKindUnmappable, errs.ErrKindConstruction:
		return http.StatusUnprocessableEntity
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
