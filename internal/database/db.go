package database

import (
	"context"
	"errors"
	"net"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError converts driver errors into domain errors. Anything that is
// not a recognised data condition becomes a *models.StoreError so callers can
// classify it without inspecting messages.
func MapPostgresError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var storeErr *models.StoreError
	if errors.As(err, &storeErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewStoreError(models.StoreTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return models.NewStoreError(models.StoreUnavailable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23503", "23502", "22P02": // foreign_key, not_null, invalid_text_representation
			return models.ErrBadRequest
		case "57014": // query_canceled (statement_timeout)
			return models.NewStoreError(models.StoreTimeout, op, err)
		}
		switch pgErr.Code[:2] {
		case "08", "53", "57": // connection exception, insufficient resources, operator intervention
			return models.NewStoreError(models.StoreUnavailable, op, err)
		}
		return models.NewStoreError(models.StoreInternal, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.NewStoreError(models.StoreTimeout, op, err)
		}
		return models.NewStoreError(models.StoreUnavailable, op, err)
	}
	if pgconn.SafeToRetry(err) || isConnectError(err) {
		return models.NewStoreError(models.StoreUnavailable, op, err)
	}

	var scanErr pgx.ScanArgError
	if errors.As(err, &scanErr) {
		return models.NewStoreError(models.StoreCorruptRecord, op, err)
	}

	return models.NewStoreError(models.StoreInternal, op, err)
}

func isConnectError(err error) bool {
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
