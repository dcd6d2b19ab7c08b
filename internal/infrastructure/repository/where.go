package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// likeEscape is portable across sqlite, postgres and mysql, unlike backslash.
const likeEscape = "!"

var (
	matchNone = clause.Expr{SQL: "1 = 0"}
	likeRepl  = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
)

// compiler turns a Where into a clause expression. db is only used to
// render relation subqueries.
type compiler struct {
	db    *gorm.DB
	model string
}

func (c *compiler) where(s *schema.Schema, w map[string]interface{}) (clause.Expression, error) {
	exprs := make([]clause.Expression, 0, len(w))
	for _, key := range sortedKeys(w) {
		v := w[key]
		var (
			e   clause.Expression
			err error
		)
		switch key {
		case "AND":
			e, err = c.and(s, v)
		case "OR":
			e, err = c.or(s, v)
		case "NOT":
			e, err = c.not(s, v)
		default:
			if rel := lookupRelation(s, key); rel != nil {
				e, err = c.relation(s, rel, v)
			} else if f := lookupField(s, key); f != nil {
				e, err = c.field(s, f, v)
			} else {
				err = invalid(c.model, key, ErrUnknownField)
			}
		}
		if err != nil {
			return nil, err
		}
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	return clause.And(exprs...), nil
}

func (c *compiler) list(s *schema.Schema, v interface{}) ([]clause.Expression, int, error) {
	items, ok := filterList(v)
	if !ok {
		return nil, 0, invalidf(c.model, "", "AND/OR/NOT take a filter or a list of filters")
	}
	exprs := make([]clause.Expression, 0, len(items))
	for _, item := range items {
		e, err := c.where(s, item)
		if err != nil {
			return nil, 0, err
		}
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	return exprs, len(items), nil
}

func (c *compiler) and(s *schema.Schema, v interface{}) (clause.Expression, error) {
	exprs, _, err := c.list(s, v)
	if err != nil || len(exprs) == 0 {
		return nil, err
	}
	return clause.And(exprs...), nil
}

// not negates an object filter as a whole and every filter of a list on
// its own: NOT [a, b] keeps the rows matching neither.
func (c *compiler) not(s *schema.Schema, v interface{}) (clause.Expression, error) {
	if m, ok := asFilter(v); ok {
		e, err := c.where(s, m)
		if err != nil || e == nil {
			return nil, err
		}
		return negate(e), nil
	}
	exprs, _, err := c.list(s, v)
	if err != nil || len(exprs) == 0 {
		return nil, err
	}
	for i, e := range exprs {
		exprs[i] = negate(e)
	}
	return clause.And(exprs...), nil
}

// negate wraps e in NOT (...). clause.Not would push the negation into each
// conjunct of an AND, turning NOT (a AND b) into NOT a AND NOT b.
func negate(e clause.Expression) clause.Expression {
	return clause.Expr{SQL: "NOT (?)", Vars: []interface{}{e}}
}

func (c *compiler) or(s *schema.Schema, v interface{}) (clause.Expression, error) {
	exprs, n, err := c.list(s, v)
	switch {
	case err != nil:
		return nil, err
	case n == 0:
		return matchNone, nil
	case len(exprs) < n:
		// an empty filter in the list matches everything
		return nil, nil
	}
	return clause.Or(exprs...), nil
}

func (c *compiler) field(s *schema.Schema, f *schema.Field, v interface{}) (clause.Expression, error) {
	col := column(s, f)
	name := jsonName(f.StructField)
	ops, ok := asFilter(v)
	if !ok {
		val, err := c.value(f, v)
		if err != nil {
			return nil, err
		}
		return clause.Eq{Column: col, Value: val}, nil
	}

	insensitive := false
	if mode, ok := ops["mode"]; ok {
		switch mode {
		case "insensitive":
			insensitive = isString(f)
		case "default":
		default:
			return nil, invalidf(c.model, name, "mode must be default or insensitive")
		}
	}

	exprs := make([]clause.Expression, 0, len(ops))
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		var e clause.Expression
		switch op {
		case "mode":
			continue
		case "equals":
			val, err := c.value(f, arg)
			if err != nil {
				return nil, err
			}
			if insensitive && val != nil {
				e = clause.Expr{SQL: "LOWER(?) = LOWER(?)", Vars: []interface{}{col, val}}
			} else {
				e = clause.Eq{Column: col, Value: val}
			}
		case "not":
			if nested, ok := asFilter(arg); ok {
				if _, has := nested["mode"]; !has && insensitive {
					nested = withMode(nested)
				}
				inner, err := c.field(s, f, nested)
				if err != nil {
					return nil, err
				}
				if inner == nil {
					e = matchNone
				} else {
					e = negate(inner)
				}
				break
			}
			val, err := c.value(f, arg)
			if err != nil {
				return nil, err
			}
			if insensitive && val != nil {
				e = clause.Expr{SQL: "LOWER(?) <> LOWER(?)", Vars: []interface{}{col, val}}
			} else {
				e = clause.Neq{Column: col, Value: val}
			}
		case "in", "notIn":
			vals, err := c.values(f, arg)
			if err != nil {
				return nil, err
			}
			switch {
			case len(vals) == 0 && op == "in":
				e = matchNone
			case len(vals) == 0:
				continue
			case insensitive:
				e = lowerIn(col, vals)
			default:
				e = clause.IN{Column: col, Values: vals}
			}
			if op == "notIn" {
				e = negate(e)
			}
		case "lt", "lte", "gt", "gte":
			if !isOrderable(f) {
				return nil, invalidf(c.model, name, "%s is not supported on this field", op)
			}
			val, err := c.value(f, arg)
			if err != nil {
				return nil, err
			}
			if val == nil {
				return nil, invalidf(c.model, name, "%s needs a value", op)
			}
			switch op {
			case "lt":
				e = clause.Lt{Column: col, Value: val}
			case "lte":
				e = clause.Lte{Column: col, Value: val}
			case "gt":
				e = clause.Gt{Column: col, Value: val}
			default:
				e = clause.Gte{Column: col, Value: val}
			}
		case "contains", "startsWith", "endsWith":
			if !isString(f) {
				return nil, invalidf(c.model, name, "%s is only supported on text fields", op)
			}
			str, ok := arg.(string)
			if !ok {
				return nil, invalidf(c.model, name, "%s needs a string", op)
			}
			pattern := likeRepl.Replace(str)
			switch op {
			case "contains":
				pattern = "%" + pattern + "%"
			case "startsWith":
				pattern = pattern + "%"
			default:
				pattern = "%" + pattern
			}
			e = like(col, pattern, insensitive)
		default:
			return nil, invalidf(c.model, name, "unknown operator %q", op)
		}
		exprs = append(exprs, e)
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	return clause.And(exprs...), nil
}

func like(col clause.Column, pattern string, insensitive bool) clause.Expression {
	if insensitive {
		return clause.Expr{SQL: "LOWER(?) LIKE ? ESCAPE '" + likeEscape + "'", Vars: []interface{}{col, strings.ToLower(pattern)}}
	}
	return clause.Expr{SQL: "? LIKE ? ESCAPE '" + likeEscape + "'", Vars: []interface{}{col, pattern}}
}

// lowerIn renders LOWER(col) IN (LOWER(?), ...).
func lowerIn(col clause.Column, vals []interface{}) clause.Expression {
	marks := strings.TrimSuffix(strings.Repeat("LOWER(?), ", len(vals)), ", ")
	return clause.Expr{SQL: "LOWER(?) IN (" + marks + ")", Vars: append([]interface{}{col}, vals...)}
}

func withMode(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["mode"] = "insensitive"
	return out
}

func (c *compiler) relation(s *schema.Schema, rel *schema.Relationship, v interface{}) (clause.Expression, error) {
	own, related, err := joinColumns(rel)
	if err != nil {
		return nil, invalid(c.model, rel.Name, err)
	}
	ownCol := clause.Column{Table: s.Table, Name: own}
	name := jsonName(rel.Field.StructField)

	if isToMany(rel) {
		ops, ok := asFilter(v)
		if !ok {
			return nil, invalidf(c.model, name, "to-many relation filters take some, every or none")
		}
		exprs := make([]clause.Expression, 0, len(ops))
		for _, op := range sortedKeys(ops) {
			sub, ok := asFilter(ops[op])
			if !ok {
				return nil, invalidf(c.model, name, "%s takes a filter", op)
			}
			var e clause.Expression
			switch op {
			case "some":
				e, err = c.in(ownCol, rel, related, sub, false, false)
			case "none":
				e, err = c.in(ownCol, rel, related, sub, false, true)
			case "every":
				// every child matches: no child fails the filter
				e, err = c.in(ownCol, rel, related, sub, true, true)
			default:
				return nil, invalidf(c.model, name, "unknown relation operator %q", op)
			}
			if err != nil {
				return nil, err
			}
			if e != nil {
				exprs = append(exprs, e)
			}
		}
		if len(exprs) == 0 {
			return nil, nil
		}
		return clause.And(exprs...), nil
	}

	if v == nil {
		return clause.Eq{Column: ownCol, Value: nil}, nil
	}
	ops, ok := asFilter(v)
	if !ok {
		return nil, invalidf(c.model, name, "to-one relation filters take is, isNot or a filter")
	}
	_, hasIs := ops["is"]
	_, hasIsNot := ops["isNot"]
	if !hasIs && !hasIsNot {
		return c.in(ownCol, rel, related, ops, false, false)
	}
	exprs := make([]clause.Expression, 0, 2)
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		var e clause.Expression
		switch op {
		case "is", "isNot":
			if arg == nil {
				if op == "is" {
					e = clause.Eq{Column: ownCol, Value: nil}
				} else {
					e = clause.Neq{Column: ownCol, Value: nil}
				}
				break
			}
			sub, ok := asFilter(arg)
			if !ok {
				return nil, invalidf(c.model, name, "%s takes a filter or null", op)
			}
			e, err = c.in(ownCol, rel, related, sub, false, op == "isNot")
			if err != nil {
				return nil, err
			}
		default:
			return nil, invalidf(c.model, name, "unknown relation operator %q", op)
		}
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	return clause.And(exprs...), nil
}

// in renders "own [NOT] IN (SELECT related FROM child WHERE [NOT] filter)".
func (c *compiler) in(own clause.Column, rel *schema.Relationship, related string, w map[string]interface{}, negateFilter, negateIn bool) (clause.Expression, error) {
	expr, err := c.where(rel.FieldSchema, w)
	if err != nil {
		return nil, err
	}
	sub := c.db.Session(&gorm.Session{NewDB: true}).Table(rel.FieldSchema.Table).Select(related)
	switch {
	case expr != nil && negateFilter:
		sub = sub.Where(negate(expr))
	case expr != nil:
		sub = sub.Where(expr)
	case negateFilter:
		// NOT of an empty filter matches no child, so every holds
		return nil, nil
	}
	sql := "? IN (?)"
	if negateIn {
		sql = "? NOT IN (?)"
	}
	return clause.Expr{SQL: sql, Vars: []interface{}{own, sub}}, nil
}

func (c *compiler) values(f *schema.Field, v interface{}) ([]interface{}, error) {
	items, ok := v.([]interface{})
	if !ok {
		switch list := v.(type) {
		case []string:
			for _, s := range list {
				items = append(items, s)
			}
		case []int:
			for _, n := range list {
				items = append(items, n)
			}
		default:
			return nil, invalidf(c.model, jsonName(f.StructField), "in/notIn take a list")
		}
	}
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		val, err := c.value(f, item)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func (c *compiler) value(f *schema.Field, v interface{}) (interface{}, error) {
	val, err := coerce(f, v)
	if err != nil {
		return nil, invalid(c.model, jsonName(f.StructField), fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	return val, nil
}

// coerce converts a filter or data value into the Go type of f.
func coerce(f *schema.Field, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case isDecimal(f):
		return toDecimal(v)
	case isTime(f):
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	}
	switch f.DataType {
	case schema.Int, schema.Uint:
		return toInt(v)
	case schema.Float:
		return toFloat(v)
	case schema.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected a boolean, got %T", v)
		}
		return b, nil
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", v)
		}
		return s, nil
	}
	return v, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case *decimal.Decimal:
		return *x, nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	}
	return decimal.Zero, fmt.Errorf("expected a number, got %T", v)
}

func toInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case json.Number:
		return strconv.ParseInt(x.String(), 10, 64)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected an integer, got %v", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func asFilter(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Where:
		return m, true
	case Op:
		return m, true
	case Data:
		return m, true
	}
	return nil, false
}

func filterList(v interface{}) ([]map[string]interface{}, bool) {
	if m, ok := asFilter(v); ok {
		return []map[string]interface{}{m}, true
	}
	switch list := v.(type) {
	case []Where:
		out := make([]map[string]interface{}, len(list))
		for i, w := range list {
			out[i] = w
		}
		return out, true
	case []map[string]interface{}:
		return list, true
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			m, ok := asFilter(item)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}
