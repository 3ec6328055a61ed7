package store

import "database/sql"

// Both the pool and a transaction can serve as a DBTX.
var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)
