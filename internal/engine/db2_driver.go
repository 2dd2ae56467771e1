//go:build db2

package engine

// Registers the "go_ibm_db" database/sql driver. Only compiled with
// -tags db2, since github.com/ibmdb/go_ibm_db requires the IBM Data
// Server Driver's CLI shared libraries at link time — the same
// deployment-time dependency gsoultan-Hermod's pkg/source/db2 documents
// rather than imports unconditionally.
import (
	_ "github.com/ibmdb/go_ibm_db"
)
