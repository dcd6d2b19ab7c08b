package repository

import (
	"bytes"
	"encoding/json"
)

// Project renders v (a *T, []T or similar) as generic JSON values keeping
// only the selected fields, or dropping the omitted ones. Included
// relations survive a select.
func (r *Repository[T]) Project(v interface{}, p Projection) (interface{}, error) {
	if len(p.Select) == 0 && len(p.Omit) == 0 {
		return v, nil
	}
	if len(p.Select) > 0 && len(p.Omit) > 0 {
		return nil, invalidf(r.name, "select", "select and omit cannot be combined")
	}
	keep, err := r.jsonNames(p.Select)
	if err != nil {
		return nil, err
	}
	if len(keep) > 0 {
		for name := range p.Include {
			rel := lookupRelation(r.schema, name)
			if rel == nil {
				return nil, invalid(r.name, name, ErrUnknownField)
			}
			keep[jsonName(rel.Field.StructField)] = true
		}
	}
	drop, err := r.jsonNames(p.Omit)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	switch g := generic.(type) {
	case map[string]interface{}:
		trim(g, keep, drop)
	case []interface{}:
		for _, item := range g {
			if m, ok := item.(map[string]interface{}); ok {
				trim(m, keep, drop)
			}
		}
	}
	return generic, nil
}

func (r *Repository[T]) jsonNames(names []string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	for _, name := range names {
		if f := lookupField(r.schema, name); f != nil {
			out[jsonName(f.StructField)] = true
			continue
		}
		if rel := lookupRelation(r.schema, name); rel != nil {
			out[jsonName(rel.Field.StructField)] = true
			continue
		}
		return nil, invalid(r.name, name, ErrUnknownField)
	}
	return out, nil
}

func trim(m map[string]interface{}, keep, drop map[string]bool) {
	for k := range m {
		if (len(keep) > 0 && !keep[k]) || drop[k] {
			delete(m, k)
		}
	}
}
