package drivers

import (
	// Registers the "pgx" driver name with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)
