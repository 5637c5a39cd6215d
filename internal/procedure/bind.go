package procedure

import (
	"github.com/koustreak/sproc/internal/database"
	"github.com/koustreak/sproc/internal/errs"
)

// Bind attaches an alternating name/value list to call, in order.
// Values are passed through untouched; the driver type-checks them.
// Nothing is bound unless the whole list is valid.
func Bind(call *database.Call, params ...any) error {
	if len(params)%2 != 0 {
		return errs.Newf(errs.ErrKindParameterCount,
			"procedure %s: parameters must be name/value pairs, got %d values", call.Procedure, len(params))
	}

	for i := 0; i < len(params); i += 2 {
		name, ok := params[i].(string)
		if !ok || name == "" {
			return errs.Newf(errs.ErrKindInvalidInput,
				"procedure %s: parameter name at position %d must be a non-empty string, got %T",
				call.Procedure, i, params[i])
		}
	}

	for i := 0; i < len(params); i += 2 {
		call.Set(params[i].(string), params[i+1])
	}
	return nil
}
