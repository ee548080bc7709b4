package dal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-intercept/intercept"
)

var (
	_ intercept.Committer       = (*UnitOfWork)(nil)
	_ intercept.Releaser        = (*UnitOfWork)(nil)
	_ intercept.ConnectionTuner = (*UnitOfWork)(nil)
	_ intercept.Resetter        = (*UnitOfWork)(nil)
)

// UnitOfWork collects the changes of one intercepted call in a lazily
// started transaction. The transaction and the tune statements share one
// connection, held from the first tune or write until the transaction ends.
type UnitOfWork struct {
	db   *bun.DB
	tune []string

	mu      sync.Mutex
	conn    *bun.Conn
	tx      *bun.Tx
	pending int
}

// NewUnitOfWork creates a unit of work on db. Tune statements run from
// TuneConnection.
func NewUnitOfWork(db *bun.DB, tune ...string) *UnitOfWork {
	return &UnitOfWork{db: db, tune: tune}
}

// Factory creates one UnitOfWork per intercepted run, for intercept.NewProxy.
func Factory(db *bun.DB, tune ...string) intercept.Factory[*UnitOfWork] {
	return func(context.Context) (*UnitOfWork, error) {
		return NewUnitOfWork(db, tune...), nil
	}
}

// DB returns the connection pool for reads outside the unit of work.
func (u *UnitOfWork) DB() *bun.DB { return u.db }

// IDB returns the transaction, starting it on first use.
func (u *UnitOfWork) IDB(ctx context.Context) (bun.IDB, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.begin(ctx)
}

func (u *UnitOfWork) connection(ctx context.Context) (*bun.Conn, error) {
	if u.conn != nil {
		return u.conn, nil
	}
	conn, err := u.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	u.conn = &conn
	return u.conn, nil
}

func (u *UnitOfWork) begin(ctx context.Context) (*bun.Tx, error) {
	if u.tx != nil {
		return u.tx, nil
	}
	conn, err := u.connection(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	u.tx = &tx
	return u.tx, nil
}

// end returns the connection to the pool.
func (u *UnitOfWork) end() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("return connection: %w", err)
	}
	return nil
}

// Exec runs a statement in the transaction and counts affected rows as
// pending changes.
func (u *UnitOfWork) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	tx, err := u.begin(ctx)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	u.track(res)
	return res, nil
}

// Insert adds model (a struct pointer or slice) in the transaction.
func (u *UnitOfWork) Insert(ctx context.Context, model any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	tx, err := u.begin(ctx)
	if err != nil {
		return err
	}
	res, err := tx.NewInsert().Model(model).Exec(ctx)
	if err != nil {
		return err
	}
	u.track(res)
	return nil
}

// Update writes model by primary key in the transaction.
func (u *UnitOfWork) Update(ctx context.Context, model any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	tx, err := u.begin(ctx)
	if err != nil {
		return err
	}
	res, err := tx.NewUpdate().Model(model).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	u.track(res)
	return nil
}

func (u *UnitOfWork) track(res sql.Result) {
	if n, err := res.RowsAffected(); err == nil {
		u.pending += int(n)
	}
}

// Pending is the number of rows changed since the last commit.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pending
}

// CommitChanges commits the transaction and returns the number of rows it
// changed. Without a transaction it is a no-op.
func (u *UnitOfWork) CommitChanges(ctx context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx == nil {
		return 0, u.end()
	}
	n := u.pending
	err := u.tx.Commit()
	u.tx = nil
	u.pending = 0
	if err != nil {
		return 0, errors.Join(fmt.Errorf("commit unit of work: %w", err), u.end())
	}
	return n, u.end()
}

// ResetChanges rolls back what a failed attempt wrote.
func (u *UnitOfWork) ResetChanges(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rollback()
}

// Release rolls back uncommitted changes.
func (u *UnitOfWork) Release(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rollback()
}

func (u *UnitOfWork) rollback() error {
	var err error
	if u.tx != nil {
		err = u.tx.Rollback()
		u.tx = nil
		u.pending = 0
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			err = fmt.Errorf("rollback unit of work: %w", err)
		} else {
			err = nil
		}
	}
	return errors.Join(err, u.end())
}

// TuneConnection runs the tune statements on the connection the next
// transaction starts on.
func (u *UnitOfWork) TuneConnection(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.rollback(); err != nil {
		return err
	}
	if len(u.tune) == 0 {
		return nil
	}
	conn, err := u.connection(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range u.tune {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("tune connection %q: %w", stmt, err)
		}
	}
	return nil
}
