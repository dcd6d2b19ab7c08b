package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"autolist-backend/internal/pkg/validation"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Known request error codes.
const (
	CodeRecordNotFound      = "RECORD_NOT_FOUND"
	CodeUniqueViolation     = "UNIQUE_VIOLATION"
	CodeForeignKeyViolation = "FOREIGN_KEY_VIOLATION"
	CodeNotNullViolation    = "NOT_NULL_VIOLATION"
	CodeTransactionTimeout  = "TRANSACTION_TIMEOUT"
	CodeTransactionWait     = "TRANSACTION_WAIT_TIMEOUT"
)

// Postgres SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrNotUnique     = errors.New("where does not select a unique key")
	ErrUnknownField  = errors.New("unknown field")
	ErrInvalidValue  = errors.New("invalid value")
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrTxTimeout     = errors.New("transaction timed out")
	ErrTxWaitTimeout = errors.New("timed out waiting to start transaction")
)

// KnownRequestError is an engine error the layer can classify.
type KnownRequestError struct {
	Code   string
	Model  string
	Target []string
	Err    error
}

func (e *KnownRequestError) Error() string {
	msg := strings.ToLower(strings.ReplaceAll(e.Code, "_", " "))
	if e.Model != "" {
		msg = e.Model + ": " + msg
	}
	if len(e.Target) > 0 {
		msg += " (" + strings.Join(e.Target, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KnownRequestError) Unwrap() error {
	return e.Err
}

// ValidationError is bad caller input: unknown fields, bad operators, invalid values.
type ValidationError struct {
	Model string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: invalid %q: %v", e.Model, e.Field, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Model, e.Err)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UnknownRequestError wraps engine errors that could not be classified.
type UnknownRequestError struct {
	Model string
	Err   error
}

func (e *UnknownRequestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Model, e.Err)
}

func (e *UnknownRequestError) Unwrap() error {
	return e.Err
}

// InitializationError is returned when the store cannot be opened or migrated.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return "initialization: " + e.Err.Error()
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

func invalid(model, field string, err error) error {
	return &ValidationError{Model: model, Field: field, Err: err}
}

func invalidf(model, field, format string, args ...interface{}) error {
	return &ValidationError{Model: model, Field: field, Err: fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidValue}, args...)...)}
}

func notFound(model string) error {
	return &KnownRequestError{Code: CodeRecordNotFound, Model: model, Err: ErrNotFound}
}

// Code returns the known request code carried by err, or "".
func Code(err error) string {
	var kre *KnownRequestError
	if errors.As(err, &kre) {
		return kre.Code
	}
	return ""
}

func IsNotFound(err error) bool {
	return Code(err) == CodeRecordNotFound
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Translate classifies an engine error for model. Already classified errors
// pass through unchanged.
func Translate(model string, err error) error {
	if err == nil {
		return nil
	}
	var (
		kre *KnownRequestError
		ve  *ValidationError
		ure *UnknownRequestError
		fe  *validation.FieldError
		pge *pgconn.PgError
	)
	switch {
	case errors.As(err, &kre), errors.As(err, &ve), errors.As(err, &ure):
		return err
	case errors.As(err, &fe):
		return &ValidationError{Model: model, Field: fe.Field, Err: errors.New(fe.Message)}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(model)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &KnownRequestError{Code: CodeUniqueViolation, Model: model, Err: err}
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return &KnownRequestError{Code: CodeForeignKeyViolation, Model: model, Err: err}
	case errors.As(err, &pge):
		switch pge.Code {
		case pgUniqueViolation:
			return &KnownRequestError{Code: CodeUniqueViolation, Model: model, Target: []string{pge.ConstraintName}, Err: err}
		case pgForeignKeyViolation:
			return &KnownRequestError{Code: CodeForeignKeyViolation, Model: model, Target: []string{pge.ConstraintName}, Err: err}
		case pgNotNullViolation:
			return &KnownRequestError{Code: CodeNotNullViolation, Model: model, Target: []string{pge.ColumnName}, Err: err}
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &KnownRequestError{Code: CodeTransactionTimeout, Model: model, Err: ErrTxTimeout}
	}

	// sqlite reports constraint failures as plain messages
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &KnownRequestError{Code: CodeUniqueViolation, Model: model, Err: err}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return &KnownRequestError{Code: CodeForeignKeyViolation, Model: model, Err: err}
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return &KnownRequestError{Code: CodeNotNullViolation, Model: model, Err: err}
	}
	return &UnknownRequestError{Model: model, Err: err}
}
