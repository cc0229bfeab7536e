package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager runs fn inside a database transaction. The concrete
// Tx is backend-defined (pgx.Tx for Postgres); repositories accept a nil Tx
// for the non-transactional path.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
