package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const createBatchSize = 100

// Repository runs typed queries for one model. It is cheap to copy; WithDB
// binds a copy to a transaction.
type Repository[T any] struct {
	db      *gorm.DB
	schema  *schema.Schema
	name    string
	uniques [][]*schema.Field
}

// New parses the schema of T and returns its repository.
func New[T any](db *gorm.DB) (*Repository[T], error) {
	s, err := parseSchema(db, new(T))
	if err != nil {
		return nil, &InitializationError{Err: err}
	}
	if s.PrioritizedPrimaryField == nil {
		return nil, &InitializationError{Err: fmt.Errorf("%s: no primary key", s.Name)}
	}
	r := &Repository[T]{db: db, schema: s, name: s.Name}
	r.uniques = append(r.uniques, []*schema.Field{s.PrioritizedPrimaryField})
	if uk, ok := interface{}(new(T)).(UniqueKeyer); ok {
		for _, key := range uk.UniqueKeys() {
			fields := make([]*schema.Field, 0, len(key))
			for _, name := range key {
				f := lookupField(s, name)
				if f == nil {
					return nil, &InitializationError{Err: fmt.Errorf("%s: unique key names unknown field %q", s.Name, name)}
				}
				fields = append(fields, f)
			}
			r.uniques = append(r.uniques, fields)
		}
	}
	return r, nil
}

// Name is the model name used in errors, e.g. "CarListing".
func (r *Repository[T]) Name() string {
	return r.name
}

func (r *Repository[T]) Schema() *schema.Schema {
	return r.schema
}

func (r *Repository[T]) DB() *gorm.DB {
	return r.db
}

// WithDB returns a copy of r running on db, typically a transaction.
func (r *Repository[T]) WithDB(db *gorm.DB) *Repository[T] {
	cp := *r
	cp.db = db
	return &cp
}

func (r *Repository[T]) compiler() *compiler {
	return &compiler{db: r.db, model: r.name}
}

func (r *Repository[T]) scope(ctx context.Context, db *gorm.DB, w Where) (*gorm.DB, error) {
	expr, err := r.compiler().where(r.schema, w)
	if err != nil {
		return nil, err
	}
	q := db.WithContext(ctx).Model(new(T))
	if expr != nil {
		q = q.Where(expr)
	}
	return q, nil
}

// requireUnique checks that w pins one of the model's unique keys by equality.
func (r *Repository[T]) requireUnique(w Where) error {
	pinned := make(map[string]bool, len(w))
	for key, v := range w {
		f := lookupField(r.schema, key)
		if f == nil {
			continue
		}
		if ops, ok := asFilter(v); ok {
			eq, has := ops["equals"]
			if !has || len(ops) != 1 || eq == nil {
				continue
			}
		} else if v == nil {
			continue
		}
		pinned[f.DBName] = true
	}
	for _, key := range r.uniques {
		all := true
		for _, f := range key {
			all = all && pinned[f.DBName]
		}
		if all {
			return nil
		}
	}
	return invalid(r.name, "", ErrNotUnique)
}

func (r *Repository[T]) pk() *schema.Field {
	return r.schema.PrioritizedPrimaryField
}

func (r *Repository[T]) pkValue(ctx context.Context, row *T) interface{} {
	v, _ := r.pk().ValueOf(ctx, reflect.ValueOf(row).Elem())
	return v
}

// PrimaryKey returns the primary key value of row.
func (r *Repository[T]) PrimaryKey(ctx context.Context, row *T) interface{} {
	return r.pkValue(ctx, row)
}

// KeyOf returns a unique filter selecting row by primary key.
func (r *Repository[T]) KeyOf(ctx context.Context, row *T) Where {
	return Where{jsonName(r.pk().StructField): r.pkValue(ctx, row)}
}

// KeysWhere returns a filter selecting the rows with the given primary keys.
func (r *Repository[T]) KeysWhere(ids []interface{}) Where {
	return Where{jsonName(r.pk().StructField): Op{"in": ids}}
}

func (r *Repository[T]) pkColumn() clause.Column {
	return column(r.schema, r.pk())
}

func (r *Repository[T]) checkFields(names ...[]string) error {
	for _, list := range names {
		for _, name := range list {
			if lookupField(r.schema, name) == nil && lookupRelation(r.schema, name) == nil {
				return invalid(r.name, name, ErrUnknownField)
			}
		}
	}
	return nil
}

// FindUnique returns the row selected by a unique key, or nil when there is none.
func (r *Repository[T]) FindUnique(ctx context.Context, args UniqueArgs) (*T, error) {
	if err := r.requireUnique(args.Where); err != nil {
		return nil, err
	}
	if err := r.checkFields(args.Select, args.Omit); err != nil {
		return nil, err
	}
	q, err := r.scope(ctx, r.db, args.Where)
	if err != nil {
		return nil, err
	}
	if q, err = r.preload(q, r.schema, args.Include, ""); err != nil {
		return nil, err
	}
	var row T
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, Translate(r.name, err)
	}
	return &row, nil
}

// FindUniqueOrThrow is FindUnique with a RECORD_NOT_FOUND error on a miss.
func (r *Repository[T]) FindUniqueOrThrow(ctx context.Context, args UniqueArgs) (*T, error) {
	row, err := r.FindUnique(ctx, args)
	if err == nil && row == nil {
		return nil, notFound(r.name)
	}
	return row, err
}

// FindFirst returns the first row matching args, or nil.
func (r *Repository[T]) FindFirst(ctx context.Context, args FindArgs) (*T, error) {
	take := 1
	if args.Take != nil && *args.Take < 0 {
		take = -1
	}
	args.Take = &take
	rows, err := r.FindMany(ctx, args)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (r *Repository[T]) FindFirstOrThrow(ctx context.Context, args FindArgs) (*T, error) {
	row, err := r.FindFirst(ctx, args)
	if err == nil && row == nil {
		return nil, notFound(r.name)
	}
	return row, err
}

// FindMany lists the rows matching args. Rows are always ordered; the
// primary key breaks ties so cursors are stable.
func (r *Repository[T]) FindMany(ctx context.Context, args FindArgs) ([]T, error) {
	if err := r.checkFields(args.Select, args.Omit); err != nil {
		return nil, err
	}
	if args.Skip < 0 {
		return nil, invalidf(r.name, "skip", "must not be negative")
	}
	q, err := r.scope(ctx, r.db, args.Where)
	if err != nil {
		return nil, err
	}
	order, err := r.orderColumns(r.schema, args.OrderBy, true)
	if err != nil {
		return nil, err
	}
	backwards := args.Take != nil && *args.Take < 0
	if backwards {
		for i := range order {
			order[i].Desc = !order[i].Desc
		}
	}
	if args.Cursor != nil {
		cond, err := r.cursor(ctx, args.Cursor, order)
		if err != nil {
			return nil, err
		}
		q = q.Where(cond)
	}
	for _, o := range order {
		q = q.Order(o)
	}
	if args.Skip > 0 {
		q = q.Offset(args.Skip)
	}
	if args.Take != nil {
		n := *args.Take
		if n < 0 {
			n = -n
		}
		q = q.Limit(n)
	}
	if q, err = r.preload(q, r.schema, args.Include, ""); err != nil {
		return nil, err
	}
	rows := make([]T, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, Translate(r.name, err)
	}
	if backwards {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return rows, nil
}

func (r *Repository[T]) orderColumns(s *schema.Schema, list OrderByList, tieBreak bool) ([]clause.OrderByColumn, error) {
	out := make([]clause.OrderByColumn, 0, len(list)+1)
	hasPK := false
	for _, o := range list {
		f := lookupField(s, o.Field)
		if f == nil {
			return nil, invalid(r.name, o.Field, ErrUnknownField)
		}
		hasPK = hasPK || f == s.PrioritizedPrimaryField
		out = append(out, clause.OrderByColumn{Column: column(s, f), Desc: o.Desc})
	}
	if tieBreak && !hasPK && s.PrioritizedPrimaryField != nil {
		out = append(out, clause.OrderByColumn{Column: column(s, s.PrioritizedPrimaryField)})
	}
	return out, nil
}

// cursor keeps the rows at or after the anchor row in the given ordering.
// Nullable order columns follow the dialect's NULL placement: sqlite and
// mysql sort NULL lowest, postgres highest.
func (r *Repository[T]) cursor(ctx context.Context, w Where, order []clause.OrderByColumn) (clause.Expression, error) {
	anchor, err := r.FindUnique(ctx, UniqueArgs{Where: w})
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return matchNone, nil
	}
	rv := reflect.ValueOf(anchor).Elem()
	vals := make([]interface{}, len(order))
	for i, o := range order {
		f := lookupField(r.schema, o.Column.Name)
		vals[i], _ = f.ValueOf(ctx, rv)
		if isNil(vals[i]) {
			vals[i] = nil
		}
	}
	nullsLow := r.db.Dialector.Name() != "postgres"
	ors := make([]clause.Expression, 0, len(order)+1)
	for i, o := range order {
		next := after(o, vals[i], nullsLow)
		if next == nil {
			continue
		}
		ands := make([]clause.Expression, 0, i+1)
		for j := 0; j < i; j++ {
			ands = append(ands, clause.Eq{Column: order[j].Column, Value: vals[j]})
		}
		ands = append(ands, next)
		ors = append(ors, clause.And(ands...))
	}
	ors = append(ors, clause.Eq{Column: r.pkColumn(), Value: r.pkValue(ctx, anchor)})
	return clause.Or(ors...), nil
}

// after matches the values that sort strictly after v in column o, or
// returns nil when none can.
func after(o clause.OrderByColumn, v interface{}, nullsLow bool) clause.Expression {
	// NULLs come after every value when they sort high ascending or low descending.
	nullsAfter := nullsLow == o.Desc
	if v == nil {
		if nullsAfter {
			return nil
		}
		return clause.Neq{Column: o.Column, Value: nil}
	}
	var e clause.Expression = clause.Gt{Column: o.Column, Value: v}
	if o.Desc {
		e = clause.Lt{Column: o.Column, Value: v}
	}
	if nullsAfter {
		return clause.Or(e, clause.Eq{Column: o.Column, Value: nil})
	}
	return e
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func (r *Repository[T]) preload(q *gorm.DB, s *schema.Schema, inc Include, prefix string) (*gorm.DB, error) {
	for _, name := range sortedKeys(inc) {
		rel := lookupRelation(s, name)
		if rel == nil {
			return nil, invalid(r.name, name, ErrUnknownField)
		}
		args := inc[name]
		if args == nil {
			args = &FindArgs{}
		}
		if args.Take != nil || args.Skip != 0 || args.Cursor != nil {
			return nil, invalidf(r.name, name, "take, skip and cursor are not supported inside include")
		}
		expr, err := r.compiler().where(rel.FieldSchema, args.Where)
		if err != nil {
			return nil, err
		}
		order, err := r.orderColumns(rel.FieldSchema, args.OrderBy, isToMany(rel))
		if err != nil {
			return nil, err
		}
		path := rel.Name
		if prefix != "" {
			path = prefix + "." + rel.Name
		}
		q = q.Preload(path, func(db *gorm.DB) *gorm.DB {
			if expr != nil {
				db = db.Where(expr)
			}
			for _, o := range order {
				db = db.Order(o)
			}
			return db
		})
		if q, err = r.preload(q, rel.FieldSchema, args.Include, path); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Count returns the number of rows matching w.
func (r *Repository[T]) Count(ctx context.Context, w Where) (int64, error) {
	q, err := r.scope(ctx, r.db, w)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, Translate(r.name, err)
	}
	return n, nil
}

// Create inserts row and any has-many children set on it. Belongs-to
// associations are never written through; use the foreign key fields.
func (r *Repository[T]) Create(ctx context.Context, row *T) (*T, error) {
	if err := r.db.WithContext(ctx).Omit(r.parents()...).Create(row).Error; err != nil {
		return nil, Translate(r.name, err)
	}
	return row, nil
}

// CreateMany inserts rows in batches and returns how many were inserted.
// With skipDuplicates rows that hit a unique key are ignored.
func (r *Repository[T]) CreateMany(ctx context.Context, rows []T, skipDuplicates bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q := r.db.WithContext(ctx).Omit(r.parents()...)
	if skipDuplicates {
		q = q.Clauses(clause.OnConflict{DoNothing: true})
	}
	res := q.CreateInBatches(&rows, createBatchSize)
	if res.Error != nil {
		return 0, Translate(r.name, res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository[T]) parents() []string {
	var names []string
	for _, rel := range relations(r.schema) {
		if rel.Type == schema.BelongsTo {
			names = append(names, rel.Name)
		}
	}
	return names
}

// Update applies data to the row selected by a unique key and returns it.
func (r *Repository[T]) Update(ctx context.Context, w Where, data Data) (*T, error) {
	if err := r.requireUnique(w); err != nil {
		return nil, err
	}
	var out *T
	err := r.transaction(ctx, func(tx *Repository[T]) error {
		row, err := tx.FindUnique(ctx, UniqueArgs{Where: w})
		if err != nil {
			return err
		}
		if row == nil {
			return notFound(r.name)
		}
		out, err = tx.updateRow(ctx, row, data)
		return err
	})
	return out, err
}

// UpdateMany applies data to every row matching w and returns the count.
func (r *Repository[T]) UpdateMany(ctx context.Context, w Where, data Data) (int64, error) {
	sets, err := r.assignments(data)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.transaction(ctx, func(tx *Repository[T]) error {
		ids, err := tx.IDs(ctx, w)
		if err != nil || len(ids) == 0 || len(sets) == 0 {
			n = int64(len(ids))
			return err
		}
		res := tx.db.WithContext(ctx).Model(new(T)).
			Where(clause.IN{Column: tx.pkColumn(), Values: ids}).
			UpdateColumns(sets)
		if res.Error != nil {
			return Translate(r.name, res.Error)
		}
		n = res.RowsAffected
		return tx.validateIDs(ctx, ids)
	})
	return n, err
}

// Upsert updates the row selected by w, or creates it from create.
func (r *Repository[T]) Upsert(ctx context.Context, w Where, create *T, update Data) (*T, error) {
	if err := r.requireUnique(w); err != nil {
		return nil, err
	}
	var out *T
	err := r.transaction(ctx, func(tx *Repository[T]) error {
		row, err := tx.FindUnique(ctx, UniqueArgs{Where: w})
		if err != nil {
			return err
		}
		if row == nil {
			out, err = tx.Create(ctx, create)
			return err
		}
		out, err = tx.updateRow(ctx, row, update)
		return err
	})
	return out, err
}

func (r *Repository[T]) updateRow(ctx context.Context, row *T, data Data) (*T, error) {
	sets, err := r.assignments(data)
	if err != nil {
		return nil, err
	}
	key := clause.Eq{Column: r.pkColumn(), Value: r.pkValue(ctx, row)}
	if len(sets) > 0 {
		if err := r.db.WithContext(ctx).Model(new(T)).Where(key).UpdateColumns(sets).Error; err != nil {
			return nil, Translate(r.name, err)
		}
	}
	var fresh T
	if err := r.db.WithContext(ctx).Model(new(T)).Where(key).Take(&fresh).Error; err != nil {
		return nil, Translate(r.name, err)
	}
	if err := validate(&fresh); err != nil {
		return nil, Translate(r.name, err)
	}
	return &fresh, nil
}

func (r *Repository[T]) validateIDs(ctx context.Context, ids []interface{}) error {
	var rows []T
	if err := r.db.WithContext(ctx).Model(new(T)).Where(clause.IN{Column: r.pkColumn(), Values: ids}).Find(&rows).Error; err != nil {
		return Translate(r.name, err)
	}
	for i := range rows {
		if err := validate(&rows[i]); err != nil {
			return Translate(r.name, err)
		}
	}
	return nil
}

func validate(row interface{}) error {
	if v, ok := row.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// assignments maps data to column updates. Arithmetic operators become
// expressions over the current column value.
func (r *Repository[T]) assignments(data Data) (map[string]interface{}, error) {
	sets := make(map[string]interface{}, len(data))
	for _, key := range sortedKeys(data) {
		f := lookupField(r.schema, key)
		if f == nil {
			if lookupRelation(r.schema, key) != nil {
				return nil, invalidf(r.name, key, "relations cannot be written through update, set the foreign key")
			}
			return nil, invalid(r.name, key, ErrUnknownField)
		}
		if f.PrimaryKey {
			return nil, invalidf(r.name, key, "primary key cannot be changed")
		}
		name := jsonName(f.StructField)
		v := data[key]
		ops, ok := asFilter(v)
		if !ok {
			val, err := coerce(f, v)
			if err != nil {
				return nil, invalid(r.name, name, fmt.Errorf("%w: %v", ErrInvalidValue, err))
			}
			sets[f.DBName] = val
			continue
		}
		if len(ops) != 1 {
			return nil, invalidf(r.name, name, "expected exactly one update operator")
		}
		for op, arg := range ops {
			val, err := coerce(f, arg)
			if err != nil {
				return nil, invalid(r.name, name, fmt.Errorf("%w: %v", ErrInvalidValue, err))
			}
			if op == "set" {
				sets[f.DBName] = val
				continue
			}
			if !isNumeric(f) {
				return nil, invalidf(r.name, name, "%s needs a numeric field", op)
			}
			if val == nil {
				return nil, invalidf(r.name, name, "%s needs a value", op)
			}
			col := clause.Column{Name: f.DBName}
			switch op {
			case "increment":
				sets[f.DBName] = gorm.Expr("? + ?", col, val)
			case "decrement":
				sets[f.DBName] = gorm.Expr("? - ?", col, val)
			case "multiply":
				sets[f.DBName] = gorm.Expr("? * ?", col, val)
			case "divide":
				if zero, _ := toFloat(val); zero == 0 {
					return nil, invalidf(r.name, name, "division by zero")
				}
				sets[f.DBName] = gorm.Expr("? / ?", col, val)
			default:
				return nil, invalidf(r.name, name, "unknown update operator %q", op)
			}
		}
	}
	return sets, nil
}

// Delete removes the row selected by a unique key, with its cascading
// children, and returns it.
func (r *Repository[T]) Delete(ctx context.Context, w Where) (*T, error) {
	if err := r.requireUnique(w); err != nil {
		return nil, err
	}
	var out *T
	err := r.transaction(ctx, func(tx *Repository[T]) error {
		row, err := tx.FindUnique(ctx, UniqueArgs{Where: w})
		if err != nil {
			return err
		}
		if row == nil {
			return notFound(r.name)
		}
		if _, err := tx.deleteIDs(ctx, []interface{}{tx.pkValue(ctx, row)}); err != nil {
			return err
		}
		out = row
		return nil
	})
	return out, err
}

// DeleteMany removes every row matching w, with cascading children.
func (r *Repository[T]) DeleteMany(ctx context.Context, w Where) (int64, error) {
	var n int64
	err := r.transaction(ctx, func(tx *Repository[T]) error {
		ids, err := tx.IDs(ctx, w)
		if err != nil || len(ids) == 0 {
			return err
		}
		n, err = tx.deleteIDs(ctx, ids)
		return err
	})
	return n, err
}

func (r *Repository[T]) deleteIDs(ctx context.Context, ids []interface{}) (int64, error) {
	db := r.db.WithContext(ctx)
	if err := cascade(db, r.schema, ids); err != nil {
		return 0, Translate(r.name, err)
	}
	res := db.Exec("DELETE FROM ? WHERE ? IN ?", clause.Table{Name: r.schema.Table}, clause.Column{Name: r.pk().DBName}, ids)
	if res.Error != nil {
		return 0, Translate(r.name, res.Error)
	}
	return res.RowsAffected, nil
}

// cascade deletes the children of ids on every relation declared
// OnDelete:CASCADE, depth first.
func cascade(db *gorm.DB, s *schema.Schema, ids []interface{}) error {
	for _, rel := range relations(s) {
		if !cascades(rel) {
			continue
		}
		_, fk, err := joinColumns(rel)
		if err != nil {
			return err
		}
		child := rel.FieldSchema
		cond := clause.IN{Column: clause.Column{Name: fk}, Values: ids}
		childIDs, err := pluck(db, child.Table, child.PrioritizedPrimaryField.DBName, cond)
		if err != nil {
			return err
		}
		if len(childIDs) == 0 {
			continue
		}
		if err := cascade(db, child, childIDs); err != nil {
			return err
		}
		if err := db.Exec("DELETE FROM ? WHERE ? IN ?", clause.Table{Name: child.Table}, clause.Column{Name: child.PrioritizedPrimaryField.DBName}, childIDs).Error; err != nil {
			return err
		}
	}
	return nil
}

// IDs returns the primary keys of the rows matching w.
func (r *Repository[T]) IDs(ctx context.Context, w Where) ([]interface{}, error) {
	expr, err := r.compiler().where(r.schema, w)
	if err != nil {
		return nil, err
	}
	ids, err := pluck(r.db.WithContext(ctx), r.schema.Table, r.pk().DBName, expr)
	if err != nil {
		return nil, Translate(r.name, err)
	}
	return ids, nil
}

func pluck(db *gorm.DB, table, col string, cond clause.Expression) ([]interface{}, error) {
	q := db.Table(table).Select(col)
	if cond != nil {
		q = q.Where(cond)
	}
	rows, err := q.Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []interface{}
	for rows.Next() {
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// transaction runs fn on a copy of r bound to a transaction. Inside an
// outer transaction gorm uses a savepoint.
func (r *Repository[T]) transaction(ctx context.Context, fn func(tx *Repository[T]) error, opts ...*sql.TxOptions) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithDB(tx))
	}, opts...)
}
