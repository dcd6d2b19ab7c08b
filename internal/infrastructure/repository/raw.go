package repository

import (
	"context"
	"database/sql"
	"strings"

	"gorm.io/gorm"
)

const rawModel = "raw"

// QueryRaw runs a parameterized query. Every value must be passed as a ?
// placeholder argument; SQL carrying quoted literals is rejected.
func QueryRaw(ctx context.Context, db *gorm.DB, query string, args ...interface{}) ([]map[string]interface{}, error) {
	if err := checkParameterized(query, args); err != nil {
		return nil, err
	}
	return QueryRawUnsafe(ctx, db, query, args...)
}

// QueryRawUnsafe runs query as given. The caller is responsible for escaping.
func QueryRawUnsafe(ctx context.Context, db *gorm.DB, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, Translate(rawModel, err)
	}
	defer rows.Close()
	return scanMaps(rows)
}

// ExecuteRaw runs a parameterized statement and returns the affected row count.
func ExecuteRaw(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (int64, error) {
	if err := checkParameterized(query, args); err != nil {
		return 0, err
	}
	return ExecuteRawUnsafe(ctx, db, query, args...)
}

func ExecuteRawUnsafe(ctx context.Context, db *gorm.DB, query string, args ...interface{}) (int64, error) {
	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return 0, Translate(rawModel, res.Error)
	}
	return res.RowsAffected, nil
}

// checkParameterized rejects string literals, the injection vector, while
// allowing quoted identifiers ("Model", `year`) that postgres and mysql
// need for reserved or mixed-case names.
func checkParameterized(query string, args []interface{}) error {
	if strings.TrimSpace(query) == "" {
		return invalidf(rawModel, "query", "empty query")
	}
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '`':
			quote = r
		case r == '\'':
			return invalidf(rawModel, "query", "literals must be passed as parameters")
		}
	}
	if quote != 0 {
		return invalidf(rawModel, "query", "unterminated quoted identifier")
	}
	// gorm binds every ?, quoted or not
	if n := strings.Count(query, "?"); n != len(args) {
		return invalidf(rawModel, "query", "%d placeholders but %d arguments", n, len(args))
	}
	return nil
}

func scanMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, Translate(rawModel, err)
	}
	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		vals, err := scanAll(rows.Scan, len(cols))
		if err != nil {
			return nil, Translate(rawModel, err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Translate(rawModel, err)
	}
	return out, nil
}
