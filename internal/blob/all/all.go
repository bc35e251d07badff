// Package all registers every blob backend.
package all

import (
	_ "tabimport/internal/blob/fs"
	_ "tabimport/internal/blob/minio"
	_ "tabimport/internal/blob/s3"
)
