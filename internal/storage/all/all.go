// Package all registers every storage backend with the storage factory.
// Binaries import it for side effects; config picks the backend at runtime.
package all

import (
	_ "tabimport/internal/storage/memory"
	_ "tabimport/internal/storage/mssql"
	_ "tabimport/internal/storage/postgres"
	_ "tabimport/internal/storage/sqlite"
)
