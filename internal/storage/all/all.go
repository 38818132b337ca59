// Package all registers every storage backend with the factory. Binaries
// that select a backend from config at runtime blank-import this package;
// binaries that hard-wire one backend import just that backend.
package all

import (
	_ "pricewatch/internal/storage/mssql"
	_ "pricewatch/internal/storage/postgres"
	_ "pricewatch/internal/storage/sqlite"
)
