package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Row executor satisfied by both *pgxpool.Pool and pgx.Tx. Numbering runs on
// the caller's transaction so an allocated number commits together with the
// document it identifies.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NextDocumentNumber allocates the next number for a document type and formats
// it as PREFIX-000001. Values are monotonic per type and never reused; gaps
// from rolled-back transactions are acceptable.
func NextDocumentNumber(ctx context.Context, q RowQuerier, docType string) (string, error) {
	if q == nil {
		return "", errors.New("shared: sequence querier required")
	}
	if docType == "" {
		return "", errors.New("shared: document type required")
	}
	var value int64
	err := q.QueryRow(ctx, `INSERT INTO doc_sequences (doc_type, last_value)
VALUES ($1, 1)
ON CONFLICT (doc_type) DO UPDATE SET last_value = doc_sequences.last_value + 1
RETURNING last_value`, docType).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("shared: next number for %s: %w", docType, err)
	}
	return fmt.Sprintf("%s-%06d", docType, value), nil
}
