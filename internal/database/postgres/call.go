package postgres

import (
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/koustreak/sproc/internal/database"
)

// render turns a call into SQL using named-argument notation, so bind order
// does not have to match the routine's declaration order.
//
//	ModeExec:           CALL "sp"("p" => $1)
//	ModeScalar:         SELECT "sp"("p" => $1)
//	ModeReader/ModeFill: SELECT * FROM "sp"("p" => $1)
func render(call *database.Call) (string, []any) {
	var sb strings.Builder
	switch call.Mode {
	case database.ModeExec:
		sb.WriteString("CALL ")
	case database.ModeScalar:
		sb.WriteString("SELECT ")
	default:
		sb.WriteString("SELECT * FROM ")
	}

	sb.WriteString(identifier(call.Procedure))
	sb.WriteByte('(')
	for i, p := range call.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(pgx.Identifier{paramName(p.Name)}.Sanitize())
		sb.WriteString(" => $")
		sb.WriteString(strconv.Itoa(i + 1))
	}
	sb.WriteByte(')')

	return sb.String(), call.Args()
}

// identifier quotes a possibly schema-qualified routine name.
func identifier(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// paramName drops placeholder sigils callers carry over from other drivers.
func paramName(name string) string {
	return strings.TrimLeft(name, "@:$")
}
