package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom streams rows into table over the COPY protocol. table may be
// schema-qualified ("places.queue_tasks"). Pass a pgx.Tx so the copy
// commits or rolls back with the surrounding writes. A short write is an
// error.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	ident := pgx.Identifier(strings.Split(table, "."))
	n, err := c.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy %d rows into %s", len(rows), table)
	}
	if n != int64(len(rows)) {
		return n, eris.Errorf("db: copy into %s wrote %d of %d rows", table, n, len(rows))
	}
	return n, nil
}
