package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"autolist-backend/internal/domain"
	"autolist-backend/internal/infrastructure/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Transaction defaults.
const (
	DefaultMaxWait = 2 * time.Second
	DefaultTimeout = 5 * time.Second
)

// TxOptions control Client.Transaction. MaxWait bounds how long to wait for
// a connection to begin; Timeout bounds the whole transaction.
type TxOptions struct {
	Isolation sql.IsolationLevel
	MaxWait   time.Duration
	Timeout   time.Duration
}

type TxOption func(*TxOptions)

func WithIsolation(l sql.IsolationLevel) TxOption {
	return func(o *TxOptions) { o.Isolation = l }
}

// WithMaxWait and WithTimeout ignore durations <= 0.
func WithMaxWait(d time.Duration) TxOption {
	return func(o *TxOptions) {
		if d > 0 {
			o.MaxWait = d
		}
	}
}

func WithTimeout(d time.Duration) TxOption {
	return func(o *TxOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// ParseIsolation maps names such as "ReadCommitted" or "read committed" to
// an isolation level. The empty string is the driver default.
func ParseIsolation(s string) (sql.IsolationLevel, error) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	switch norm {
	case "", "default":
		return sql.LevelDefault, nil
	case "readuncommitted":
		return sql.LevelReadUncommitted, nil
	case "readcommitted":
		return sql.LevelReadCommitted, nil
	case "repeatableread":
		return sql.LevelRepeatableRead, nil
	case "snapshot":
		return sql.LevelSnapshot, nil
	case "serializable":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, &repository.ValidationError{Model: "transaction", Field: "isolationLevel", Err: fmt.Errorf("%w: %q", repository.ErrInvalidValue, s)}
}

// Client bundles one repository per catalog model over a shared DB.
type Client struct {
	DB *gorm.DB

	Brand        *repository.Repository[domain.Brand]
	Model        *repository.Repository[domain.Model]
	Version      *repository.Repository[domain.Version]
	Trim         *repository.Repository[domain.Trim]
	Source       *repository.Repository[domain.Source]
	Seller       *repository.Repository[domain.Seller]
	CarListing   *repository.Repository[domain.CarListing]
	Image        *repository.Repository[domain.Image]
	PriceHistory *repository.Repository[domain.PriceHistory]
	ListingEvent *repository.Repository[domain.ListingEvent]

	tx   TxOptions
	inTx bool
}

// NewClient builds the repositories. Transaction defaults can be overridden
// with opts.
func NewClient(db *gorm.DB, opts ...TxOption) (*Client, error) {
	c := &Client{DB: db, tx: TxOptions{MaxWait: DefaultMaxWait, Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(&c.tx)
	}
	var err error
	if c.Brand, err = repository.New[domain.Brand](db); err != nil {
		return nil, err
	}
	if c.Model, err = repository.New[domain.Model](db); err != nil {
		return nil, err
	}
	if c.Version, err = repository.New[domain.Version](db); err != nil {
		return nil, err
	}
	if c.Trim, err = repository.New[domain.Trim](db); err != nil {
		return nil, err
	}
	if c.Source, err = repository.New[domain.Source](db); err != nil {
		return nil, err
	}
	if c.Seller, err = repository.New[domain.Seller](db); err != nil {
		return nil, err
	}
	if c.CarListing, err = repository.New[domain.CarListing](db); err != nil {
		return nil, err
	}
	if c.Image, err = repository.New[domain.Image](db); err != nil {
		return nil, err
	}
	if c.PriceHistory, err = repository.New[domain.PriceHistory](db); err != nil {
		return nil, err
	}
	if c.ListingEvent, err = repository.New[domain.ListingEvent](db); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) withDB(db *gorm.DB) *Client {
	return &Client{
		DB:           db,
		Brand:        c.Brand.WithDB(db),
		Model:        c.Model.WithDB(db),
		Version:      c.Version.WithDB(db),
		Trim:         c.Trim.WithDB(db),
		Source:       c.Source.WithDB(db),
		Seller:       c.Seller.WithDB(db),
		CarListing:   c.CarListing.WithDB(db),
		Image:        c.Image.WithDB(db),
		PriceHistory: c.PriceHistory.WithDB(db),
		ListingEvent: c.ListingEvent.WithDB(db),
		tx:           c.tx,
		inTx:         true,
	}
}

// InTransaction reports whether c is bound to an open transaction.
func (c *Client) InTransaction() bool {
	return c.inTx
}

// Transaction runs fn in a transaction and commits when fn returns nil.
// fn must use the tx client it is given. Inside a transaction fn joins the
// outer one.
func (c *Client) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Client) error, opts ...TxOption) (err error) {
	if c.inTx {
		return fn(ctx, c)
	}
	o := c.tx
	for _, opt := range opts {
		opt(&o)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	tx, err := c.begin(runCtx, o)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(runCtx, c.withDB(tx)); err != nil {
		tx.Rollback()
		if timedOut(ctx, runCtx) {
			return timeoutError(err)
		}
		return err
	}
	if timedOut(ctx, runCtx) {
		tx.Rollback()
		return timeoutError(nil)
	}
	if err := tx.Commit().Error; err != nil {
		if timedOut(ctx, runCtx) {
			return timeoutError(err)
		}
		return repository.Translate("transaction", err)
	}
	return nil
}

// begin starts the transaction, giving up after MaxWait. A transaction that
// starts after the caller gave up is rolled back.
func (c *Client) begin(ctx context.Context, o TxOptions) (*gorm.DB, error) {
	started := make(chan *gorm.DB, 1)
	go func() {
		started <- c.DB.WithContext(ctx).Begin(&sql.TxOptions{Isolation: o.Isolation})
	}()

	timer := time.NewTimer(o.MaxWait)
	defer timer.Stop()
	select {
	case tx := <-started:
		if tx.Error != nil {
			if errors.Is(tx.Error, context.DeadlineExceeded) {
				return nil, &repository.KnownRequestError{Code: repository.CodeTransactionWait, Model: "transaction", Err: repository.ErrTxWaitTimeout}
			}
			return nil, repository.Translate("transaction", tx.Error)
		}
		return tx, nil
	case <-timer.C:
		go func() {
			if tx := <-started; tx.Error == nil {
				tx.Rollback()
			}
		}()
		log.Warn().Dur("max_wait", o.MaxWait).Msg("transaction: gave up waiting for a connection")
		return nil, &repository.KnownRequestError{Code: repository.CodeTransactionWait, Model: "transaction", Err: repository.ErrTxWaitTimeout}
	}
}

func timedOut(parent, run context.Context) bool {
	return errors.Is(run.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

func timeoutError(cause error) error {
	err := repository.ErrTxTimeout
	if cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", repository.ErrTxTimeout, cause)
	}
	return &repository.KnownRequestError{Code: repository.CodeTransactionTimeout, Model: "transaction", Err: err}
}

// BatchOp is one step of Batch.
type BatchOp func(ctx context.Context, tx *Client) (interface{}, error)

// Batch runs ops in order inside one transaction and returns their results.
// The first error rolls everything back.
func (c *Client) Batch(ctx context.Context, ops []BatchOp, opts ...TxOption) ([]interface{}, error) {
	results := make([]interface{}, 0, len(ops))
	err := c.Transaction(ctx, func(ctx context.Context, tx *Client) error {
		for i, op := range ops {
			res, err := op(ctx, tx)
			if err != nil {
				return fmt.Errorf("batch step %d: %w", i, err)
			}
			results = append(results, res)
		}
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) QueryRaw(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	return repository.QueryRaw(ctx, c.DB, query, args...)
}

func (c *Client) QueryRawUnsafe(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	return repository.QueryRawUnsafe(ctx, c.DB, query, args...)
}

func (c *Client) ExecuteRaw(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return repository.ExecuteRaw(ctx, c.DB, query, args...)
}

func (c *Client) ExecuteRawUnsafe(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return repository.ExecuteRawUnsafe(ctx, c.DB, query, args...)
}

// Ping checks the database connection.
func (c *Client) Ping() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the underlying pool.
func (c *Client) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
