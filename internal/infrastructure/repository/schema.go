package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// UniqueKeyer is implemented by models with unique keys besides the primary
// key. Each key is a list of field names.
type UniqueKeyer interface {
	UniqueKeys() [][]string
}

// Validator is implemented by models that can check their own invariants.
type Validator interface {
	Validate() error
}

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	timeType    = reflect.TypeOf(time.Time{})
)

func parseSchema(db *gorm.DB, model interface{}) (*schema.Schema, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return nil, err
	}
	return stmt.Schema, nil
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if name := strings.Split(tag, ",")[0]; name != "" {
		return name
	}
	return sf.Name
}

// lookupField resolves a column-backed field by json name, Go name or column name.
func lookupField(s *schema.Schema, name string) *schema.Field {
	if f := s.LookUpField(name); f != nil && f.DBName != "" {
		return f
	}
	for _, f := range s.Fields {
		if f.DBName != "" && jsonName(f.StructField) == name {
			return f
		}
	}
	return nil
}

// relations lists the schema's own relationships in a stable order. gorm
// also registers the parent side of has-many relations on the child schema
// under "_"-prefixed keys; those are skipped.
func relations(s *schema.Schema) []*schema.Relationship {
	keys := make([]string, 0, len(s.Relationships.Relations))
	for k := range s.Relationships.Relations {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]*schema.Relationship, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Relationships.Relations[k])
	}
	return out
}

func lookupRelation(s *schema.Schema, name string) *schema.Relationship {
	for _, rel := range relations(s) {
		if rel.Name == name || jsonName(rel.Field.StructField) == name {
			return rel
		}
	}
	return nil
}

// joinColumns returns the column on the owner side and on the related side
// of a single-column relationship.
func joinColumns(rel *schema.Relationship) (own, related string, err error) {
	if len(rel.References) != 1 {
		return "", "", fmt.Errorf("relation %s: composite references are not supported", rel.Name)
	}
	ref := rel.References[0]
	if ref.OwnPrimaryKey {
		return ref.PrimaryKey.DBName, ref.ForeignKey.DBName, nil
	}
	return ref.ForeignKey.DBName, ref.PrimaryKey.DBName, nil
}

func isToMany(rel *schema.Relationship) bool {
	return rel.Type == schema.HasMany || rel.Type == schema.Many2Many
}

func cascades(rel *schema.Relationship) bool {
	if rel.Type != schema.HasMany && rel.Type != schema.HasOne {
		return false
	}
	c := rel.ParseConstraint()
	return c != nil && strings.EqualFold(c.OnDelete, "CASCADE")
}

func isDecimal(f *schema.Field) bool {
	return f.IndirectFieldType == decimalType
}

func isTime(f *schema.Field) bool {
	return f.IndirectFieldType == timeType || f.DataType == schema.Time
}

func isNumeric(f *schema.Field) bool {
	if isDecimal(f) {
		return true
	}
	switch f.DataType {
	case schema.Int, schema.Uint, schema.Float:
		return true
	}
	return false
}

func isString(f *schema.Field) bool {
	return !isDecimal(f) && f.IndirectFieldType.Kind() == reflect.String
}

func isOrderable(f *schema.Field) bool {
	return isNumeric(f) || isTime(f) || isString(f)
}

func column(s *schema.Schema, f *schema.Field) clause.Column {
	return clause.Column{Table: s.Table, Name: f.DBName}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// typedValue converts a driver value into the Go type of f, the way gorm
// does when scanning a row.
func typedValue(ctx context.Context, f *schema.Field, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	if isTime(f) {
		t, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		raw = t
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	tmp := reflect.New(f.Schema.ModelType).Elem()
	if err := f.Set(ctx, tmp, raw); err != nil {
		return nil, err
	}
	v, _ := f.ValueOf(ctx, tmp)
	return v, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTime(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *v, nil
	case []byte:
		return parseTime(string(v))
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", v)
	}
	return time.Time{}, fmt.Errorf("cannot use %T as time", raw)
}
