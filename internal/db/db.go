// Package db provides PostgreSQL-backed repository implementations for the
// parking engine. All repositories accept a DBTX interface that is
// satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx (for
// transactional execution), enabling clean transaction support.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"parking/internal/config"
	"parking/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewPool opens a connection pool sized from cfg and verifies connectivity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	pingCtx := ctx
	if cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.AcquireTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Repos is the set of repositories sharing one DBTX. It implements
// types.Repositories.
type Repos struct {
	db DBTX
}

// NewRepos creates repositories over db (pool or transaction).
func NewRepos(db DBTX) *Repos {
	return &Repos{db: db}
}

// Plazas returns the plaza repository.
func (r *Repos) Plazas() types.PlazaRepository { return NewPlazaRepository(r.db) }

// Reservations returns the reservation repository.
func (r *Repos) Reservations() types.ReservationRepository { return NewReservationRepository(r.db) }

// Occupancies returns the occupancy repository.
func (r *Repos) Occupancies() types.OccupancyRepository { return NewOccupancyRepository(r.db) }

// Subscriptions returns the subscription repository.
func (r *Repos) Subscriptions() types.SubscriptionRepository { return NewSubscriptionRepository(r.db) }

// Tariffs returns the tariff repository.
func (r *Repos) Tariffs() types.TariffRepository { return NewTariffRepository(r.db) }

// TxManager runs units of work in a database transaction. It implements
// types.TransactionManager.
type TxManager struct {
	db     Beginner
	logger *slog.Logger
}

// NewTxManager creates a TxManager that begins transactions on db.
func NewTxManager(db Beginner, logger *slog.Logger) *TxManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{db: db, logger: logger}
}

// RunInTx begins a transaction, hands fn repositories bound to it and
// commits when fn returns nil. Any error or panic rolls back.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.Repositories) error) (err error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				m.logger.WarnContext(ctx, "transaction rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(ctx, NewRepos(tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// dbError wraps a driver error as internal_database_error.
func dbError(msg string, err error) error {
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}
