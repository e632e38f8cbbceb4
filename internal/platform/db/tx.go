package db

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
)

const DBTxKey contextKey = "db_tx"

// ContextWithTx returns a context carrying an open transaction. Store code
// prefers the transaction over the tenant-scoped connection.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext retrieves the transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant-scoped connection in ctx and
// returns it together with a child context carrying the transaction. The
// caller owns Commit/Rollback.
func WithTx(ctx context.Context) (pgx.Tx, context.Context, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return nil, ctx, fmt.Errorf("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, ctx, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, ContextWithTx(ctx, tx), nil
}

// TxMiddleware wraps mutating requests in a transaction on the tenant-scoped
// connection, so multi-document writes in one request (a state change plus
// its audit entry) commit or roll back together. Reads pass through, as do
// requests with no tenant connection in context.
func TxMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				return next(c)
			}

			ctx := c.Request().Context()
			tx, txCtx, err := WithTx(ctx)
			if err != nil {
				return next(c)
			}

			c.SetRequest(c.Request().WithContext(txCtx))
			if err := next(c); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "transaction commit failed")
			}
			return nil
		}
	}
}
