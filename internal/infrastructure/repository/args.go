package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Where is a filter over fields and relations of a model. Keys are field
// names (json, Go or column name), relation names, or AND / OR / NOT.
//
//	Where{"year": Op{"gte": 2018}, "trim": Op{"is": Where{"fuelType": "diesel"}}}
type Where map[string]interface{}

// Op holds the operators for a single field or relation.
type Op map[string]interface{}

// Data holds field assignments for update operations. A value is either the
// new value or a map with one of set, increment, decrement, multiply, divide.
type Data map[string]interface{}

func (w *Where) UnmarshalJSON(b []byte) error {
	m, err := decodeObject(b)
	if err != nil {
		return err
	}
	*w = m
	return nil
}

func (d *Data) UnmarshalJSON(b []byte) error {
	m, err := decodeObject(b)
	if err != nil {
		return err
	}
	*d = m
	return nil
}

// decodeObject keeps numbers as json.Number so decimals survive intact.
func decodeObject(b []byte) (map[string]interface{}, error) {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// OrderBy sorts by one field.
type OrderBy struct {
	Field string
	Desc  bool
}

func Asc(field string) OrderBy  { return OrderBy{Field: field} }
func Desc(field string) OrderBy { return OrderBy{Field: field, Desc: true} }

// OrderByList accepts {"price": "desc"} or [{"price": "desc"}, {"id": "asc"}].
type OrderByList []OrderBy

func (o *OrderByList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var objs []map[string]string
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &objs); err != nil {
			return err
		}
	} else {
		var one map[string]string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		if one != nil {
			objs = append(objs, one)
		}
	}
	out := make(OrderByList, 0, len(objs))
	for _, obj := range objs {
		// multiple keys in one object have no defined order
		if len(obj) != 1 {
			return fmt.Errorf("orderBy: each entry must name exactly one field")
		}
		for field, dir := range obj {
			switch strings.ToLower(dir) {
			case "asc":
				out = append(out, Asc(field))
			case "desc":
				out = append(out, Desc(field))
			default:
				return fmt.Errorf("orderBy %s: direction must be asc or desc", field)
			}
		}
	}
	*o = out
	return nil
}

func (o OrderBy) MarshalJSON() ([]byte, error) {
	dir := "asc"
	if o.Desc {
		dir = "desc"
	}
	return json.Marshal(map[string]string{o.Field: dir})
}

// FieldSet is a list of field names. It accepts ["a", "b"] or {"a": true, "b": true}.
type FieldSet []string

func (f *FieldSet) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var names []string
		if err := json.Unmarshal(b, &names); err != nil {
			return err
		}
		*f = names
		return nil
	}
	var m map[string]bool
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	names := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		if m[k] {
			names = append(names, k)
		}
	}
	*f = names
	return nil
}

// Include names relations to load. A nil *FindArgs loads the relation as is.
type Include map[string]*FindArgs

// UnmarshalJSON accepts {"images": true} and {"images": {"orderBy": {"id": "asc"}}}.
func (inc *Include) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Include, len(raw))
	for name, v := range raw {
		switch strings.TrimSpace(string(v)) {
		case "true":
			out[name] = nil
		case "false", "null":
		default:
			var args FindArgs
			if err := json.Unmarshal(v, &args); err != nil {
				return fmt.Errorf("include %s: %w", name, err)
			}
			out[name] = &args
		}
	}
	*inc = out
	return nil
}

// FindArgs are the arguments of FindMany and FindFirst. A negative Take
// reads backwards from the cursor, or from the end of the ordering.
type FindArgs struct {
	Where   Where       `json:"where,omitempty"`
	OrderBy OrderByList `json:"orderBy,omitempty"`
	Cursor  Where       `json:"cursor,omitempty"`
	Take    *int        `json:"take,omitempty"`
	Skip    int         `json:"skip,omitempty"`
	Include Include     `json:"include,omitempty"`
	Select  FieldSet    `json:"select,omitempty"`
	Omit    FieldSet    `json:"omit,omitempty"`
}

// UniqueArgs are the arguments of FindUnique.
type UniqueArgs struct {
	Where   Where    `json:"where"`
	Include Include  `json:"include,omitempty"`
	Select  FieldSet `json:"select,omitempty"`
	Omit    FieldSet `json:"omit,omitempty"`
}

// Projection trims a result to the selected fields.
type Projection struct {
	Select  FieldSet
	Omit    FieldSet
	Include Include
}

func Take(n int) *int {
	return &n
}

// Aggregates names the fields each aggregate function applies to.
type Aggregates struct {
	Count bool     `json:"_count,omitempty"`
	Avg   FieldSet `json:"_avg,omitempty"`
	Sum   FieldSet `json:"_sum,omitempty"`
	Min   FieldSet `json:"_min,omitempty"`
	Max   FieldSet `json:"_max,omitempty"`
}

// AggregateArgs are the arguments of Aggregate.
type AggregateArgs struct {
	Where Where `json:"where,omitempty"`
	Aggregates
}

// Having filters groups on an aggregate, e.g. {"fn": "avg", "field": "price", "op": "gt", "value": 10000}.
// Field may be empty for count.
type Having struct {
	Fn    string      `json:"fn"`
	Field string      `json:"field,omitempty"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// GroupByArgs are the arguments of GroupBy. OrderBy may name a grouped
// field or an aggregate such as "_count" or "_avg.price".
type GroupByArgs struct {
	By      FieldSet    `json:"by"`
	Where   Where       `json:"where,omitempty"`
	Having  []Having    `json:"having,omitempty"`
	OrderBy OrderByList `json:"orderBy,omitempty"`
	Take    *int        `json:"take,omitempty"`
	Skip    int         `json:"skip,omitempty"`
	Aggregates
}
