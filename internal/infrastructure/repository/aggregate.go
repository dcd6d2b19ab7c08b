package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// AggregateResult holds one value per requested aggregate, keyed by field
// json name. Avg is always a float; the others keep the field's type.
type AggregateResult struct {
	Count *int64                 `json:"_count,omitempty"`
	Avg   map[string]*float64    `json:"_avg,omitempty"`
	Sum   map[string]interface{} `json:"_sum,omitempty"`
	Min   map[string]interface{} `json:"_min,omitempty"`
	Max   map[string]interface{} `json:"_max,omitempty"`
}

// GroupResult is one group: the grouped field values plus its aggregates.
type GroupResult struct {
	By map[string]interface{}
	AggregateResult
}

func (g GroupResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(g.By)+5)
	for k, v := range g.By {
		out[k] = v
	}
	if g.Count != nil {
		out["_count"] = *g.Count
	}
	if g.Avg != nil {
		out["_avg"] = g.Avg
	}
	if g.Sum != nil {
		out["_sum"] = g.Sum
	}
	if g.Min != nil {
		out["_min"] = g.Min
	}
	if g.Max != nil {
		out["_max"] = g.Max
	}
	return json.Marshal(out)
}

type aggColumn struct {
	fn    string // COUNT, AVG, SUM, MIN, MAX
	field *schema.Field
	alias string
}

func (a aggColumn) sql(stmt *gorm.Statement) string {
	if a.field == nil {
		return "COUNT(*)"
	}
	return a.fn + "(" + stmt.Quote(clause.Column{Table: a.field.Schema.Table, Name: a.field.DBName}) + ")"
}

func (r *Repository[T]) aggColumns(spec Aggregates) ([]aggColumn, error) {
	var cols []aggColumn
	if spec.Count {
		cols = append(cols, aggColumn{fn: "COUNT", alias: "agg_count"})
	}
	add := func(fn string, names []string, check func(*schema.Field) bool) error {
		for _, name := range names {
			f := lookupField(r.schema, name)
			if f == nil {
				return invalid(r.name, name, ErrUnknownField)
			}
			if !check(f) {
				return invalidf(r.name, name, "_%s is not supported on this field", strings.ToLower(fn))
			}
			cols = append(cols, aggColumn{fn: fn, field: f, alias: fmt.Sprintf("agg_%s_%s", strings.ToLower(fn), f.DBName)})
		}
		return nil
	}
	if err := add("AVG", spec.Avg, isNumeric); err != nil {
		return nil, err
	}
	if err := add("SUM", spec.Sum, isNumeric); err != nil {
		return nil, err
	}
	if err := add("MIN", spec.Min, isOrderable); err != nil {
		return nil, err
	}
	if err := add("MAX", spec.Max, isOrderable); err != nil {
		return nil, err
	}
	return cols, nil
}

func (r *Repository[T]) fill(ctx context.Context, res *AggregateResult, col aggColumn, raw interface{}) error {
	if col.field == nil {
		n, err := toInt(normalizeInt(raw))
		if err != nil {
			return err
		}
		res.Count = &n
		return nil
	}
	name := jsonName(col.field.StructField)
	switch col.fn {
	case "AVG":
		if res.Avg == nil {
			res.Avg = map[string]*float64{}
		}
		if raw == nil {
			res.Avg[name] = nil
			return nil
		}
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		res.Avg[name] = &f
		return nil
	}
	v, err := typedValue(ctx, col.field, raw)
	if err != nil {
		return err
	}
	var m *map[string]interface{}
	switch col.fn {
	case "SUM":
		m = &res.Sum
	case "MIN":
		m = &res.Min
	default:
		m = &res.Max
	}
	if *m == nil {
		*m = map[string]interface{}{}
	}
	(*m)[name] = v
	return nil
}

// drivers report COUNT as int64, uint64 or a decimal string.
func normalizeInt(raw interface{}) interface{} {
	switch v := raw.(type) {
	case nil:
		return int64(0)
	case uint64:
		return int64(v)
	case []byte:
		return json.Number(string(v))
	case string:
		return json.Number(v)
	}
	return raw
}

// Aggregate computes count, avg, sum, min and max over the rows matching args.
func (r *Repository[T]) Aggregate(ctx context.Context, args AggregateArgs) (*AggregateResult, error) {
	cols, err := r.aggColumns(args.Aggregates)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, invalidf(r.name, "", "aggregate needs at least one of _count, _avg, _sum, _min, _max")
	}
	q, err := r.scope(ctx, r.db, args.Where)
	if err != nil {
		return nil, err
	}
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = c.sql(q.Statement) + " AS " + c.alias
	}
	rows, err := q.Select(strings.Join(exprs, ", ")).Rows()
	if err != nil {
		return nil, Translate(r.name, err)
	}
	defer rows.Close()

	res := &AggregateResult{}
	if rows.Next() {
		vals, err := scanAll(rows.Scan, len(cols))
		if err != nil {
			return nil, Translate(r.name, err)
		}
		for i, c := range cols {
			if err := r.fill(ctx, res, c, vals[i]); err != nil {
				return nil, Translate(r.name, err)
			}
		}
	}
	return res, Translate(r.name, rows.Err())
}

// GroupBy groups the rows matching args by the By fields and aggregates
// each group.
func (r *Repository[T]) GroupBy(ctx context.Context, args GroupByArgs) ([]GroupResult, error) {
	if len(args.By) == 0 {
		return nil, invalidf(r.name, "by", "groupBy needs at least one field")
	}
	by := make([]*schema.Field, 0, len(args.By))
	for _, name := range args.By {
		f := lookupField(r.schema, name)
		if f == nil {
			return nil, invalid(r.name, name, ErrUnknownField)
		}
		by = append(by, f)
	}
	cols, err := r.aggColumns(args.Aggregates)
	if err != nil {
		return nil, err
	}
	if args.Skip < 0 {
		return nil, invalidf(r.name, "skip", "must not be negative")
	}
	q, err := r.scope(ctx, r.db, args.Where)
	if err != nil {
		return nil, err
	}

	exprs := make([]string, 0, len(by)+len(cols))
	for _, f := range by {
		exprs = append(exprs, q.Statement.Quote(column(r.schema, f)))
	}
	for _, c := range cols {
		exprs = append(exprs, c.sql(q.Statement)+" AS "+c.alias)
	}
	q = q.Select(strings.Join(exprs, ", "))
	for _, f := range by {
		q = q.Group(q.Statement.Quote(column(r.schema, f)))
	}
	for _, h := range args.Having {
		expr, err := r.having(h)
		if err != nil {
			return nil, err
		}
		q = q.Having(expr)
	}
	for _, o := range args.OrderBy {
		col, err := r.groupOrder(o, by, q.Statement)
		if err != nil {
			return nil, err
		}
		q = q.Order(col)
	}
	if args.Skip > 0 {
		q = q.Offset(args.Skip)
	}
	if args.Take != nil {
		if *args.Take < 0 {
			return nil, invalidf(r.name, "take", "must not be negative in groupBy")
		}
		q = q.Limit(*args.Take)
	}

	rows, err := q.Rows()
	if err != nil {
		return nil, Translate(r.name, err)
	}
	defer rows.Close()
	out := make([]GroupResult, 0)
	for rows.Next() {
		vals, err := scanAll(rows.Scan, len(by)+len(cols))
		if err != nil {
			return nil, Translate(r.name, err)
		}
		g := GroupResult{By: make(map[string]interface{}, len(by))}
		for i, f := range by {
			v, err := typedValue(ctx, f, vals[i])
			if err != nil {
				return nil, Translate(r.name, err)
			}
			g.By[jsonName(f.StructField)] = v
		}
		for i, c := range cols {
			if err := r.fill(ctx, &g.AggregateResult, c, vals[len(by)+i]); err != nil {
				return nil, Translate(r.name, err)
			}
		}
		out = append(out, g)
	}
	return out, Translate(r.name, rows.Err())
}

var havingOps = map[string]string{
	"equals": "=",
	"not":    "<>",
	"lt":     "<",
	"lte":    "<=",
	"gt":     ">",
	"gte":    ">=",
}

func (r *Repository[T]) having(h Having) (clause.Expression, error) {
	op, ok := havingOps[h.Op]
	if !ok {
		return nil, invalidf(r.name, h.Field, "unknown having operator %q", h.Op)
	}
	fn := strings.ToUpper(h.Fn)
	if fn == "COUNT" && h.Field == "" {
		n, err := toFloat(h.Value)
		if err != nil {
			return nil, invalid(r.name, "_count", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
		return clause.Expr{SQL: "COUNT(*) " + op + " ?", Vars: []interface{}{n}}, nil
	}
	f := lookupField(r.schema, h.Field)
	if f == nil {
		return nil, invalid(r.name, h.Field, ErrUnknownField)
	}
	var (
		val interface{}
		err error
	)
	switch fn {
	case "COUNT", "AVG":
		val, err = toFloat(h.Value)
	case "SUM":
		if !isNumeric(f) {
			return nil, invalidf(r.name, h.Field, "_sum is not supported on this field")
		}
		val, err = coerce(f, h.Value)
	case "MIN", "MAX":
		val, err = coerce(f, h.Value)
	default:
		return nil, invalidf(r.name, h.Field, "unknown aggregate %q", h.Fn)
	}
	if err != nil {
		return nil, invalid(r.name, h.Field, fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	return clause.Expr{SQL: fn + "(?) " + op + " ?", Vars: []interface{}{column(r.schema, f), val}}, nil
}

// groupOrder resolves "field", "_count" or "_avg.field" style keys.
func (r *Repository[T]) groupOrder(o OrderBy, by []*schema.Field, stmt *gorm.Statement) (clause.OrderByColumn, error) {
	if o.Field == "_count" {
		return clause.OrderByColumn{Column: clause.Column{Name: "COUNT(*)", Raw: true}, Desc: o.Desc}, nil
	}
	if strings.HasPrefix(o.Field, "_") {
		fn, name, ok := strings.Cut(strings.TrimPrefix(o.Field, "_"), ".")
		fn = strings.ToUpper(fn)
		f := lookupField(r.schema, name)
		if !ok || f == nil {
			return clause.OrderByColumn{}, invalid(r.name, o.Field, ErrUnknownField)
		}
		switch fn {
		case "COUNT", "AVG", "SUM", "MIN", "MAX":
		default:
			return clause.OrderByColumn{}, invalidf(r.name, o.Field, "unknown aggregate %q", fn)
		}
		expr := fn + "(" + stmt.Quote(column(r.schema, f)) + ")"
		return clause.OrderByColumn{Column: clause.Column{Name: expr, Raw: true}, Desc: o.Desc}, nil
	}
	f := lookupField(r.schema, o.Field)
	for _, g := range by {
		if f != nil && g == f {
			return clause.OrderByColumn{Column: column(r.schema, f), Desc: o.Desc}, nil
		}
	}
	return clause.OrderByColumn{}, invalidf(r.name, o.Field, "groupBy can only order by grouped fields or aggregates")
}

func scanAll(scan func(dest ...interface{}) error, n int) ([]interface{}, error) {
	vals := make([]interface{}, n)
	ptrs := make([]interface{}, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
