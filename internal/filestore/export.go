package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/mapping"
)

const (
	exportPrefix      = "procedures"
	exportTimeLayout  = "20060102T150405.000Z"
	exportContentType = "application/json"
)

// ExportKey returns the object key a result of procedure written at now is
// stored under: procedures/<procedure>/<UTC timestamp>.json.
func ExportKey(procedure string, now time.Time) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(procedure)
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return path.Join(exportPrefix, name, now.UTC().Format(exportTimeLayout)+".json")
}

// ExportDataSet writes ds as JSON to bucket under ExportKey.
func ExportDataSet(ctx context.Context, store Store, bucket, procedure string, ds *mapping.DataSet, now time.Time) (*ObjectInfo, error) {
	if ds == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "nothing to export")
	}

	body, err := json.Marshal(ds)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to encode result for export", err)
	}

	key := ExportKey(procedure, now)
	info, err := store.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), exportContentType)
	if err != nil {
		return nil, err
	}
	return info, nil
}
