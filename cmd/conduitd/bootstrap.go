package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/acuranzo/conduit/internal/engine"
	"github.com/acuranzo/conduit/internal/qtc"
)

// loadBootstrapRows is the qtc.Loader every Lead is launched with: it
// runs the configured bootstrap query against the connected handle and
// scans rows in the canonical column order DESIGN.md resolves spec.md
// §9's open question with: query_ref, sql_template, description,
// queue_type, timeout_seconds.
func loadBootstrapRows(ctx context.Context, h *engine.DatabaseHandle, bootstrapSQL string) ([]qtc.BootstrapRow, error) {
	db, ok := h.Raw.(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("bootstrap: handle has no *sql.DB to query")
	}

	rows, err := db.QueryContext(ctx, bootstrapSQL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap query: %w", err)
	}
	defer rows.Close()

	var out []qtc.BootstrapRow
	for rows.Next() {
		var r qtc.BootstrapRow
		if err := rows.Scan(&r.QueryRef, &r.SQLTemplate, &r.Description, &r.QueueType, &r.TimeoutSeconds); err != nil {
			return nil, fmt.Errorf("bootstrap scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
