package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"autolist-backend/internal/domain"
	"autolist-backend/internal/infrastructure/database"
	"autolist-backend/internal/infrastructure/repository"
)

// Actions accepted by Execute.
const (
	ActionFindUnique        = "findUnique"
	ActionFindUniqueOrThrow = "findUniqueOrThrow"
	ActionFindFirst         = "findFirst"
	ActionFindFirstOrThrow  = "findFirstOrThrow"
	ActionFindMany          = "findMany"
	ActionCreate            = "create"
	ActionCreateMany        = "createMany"
	ActionUpdate            = "update"
	ActionUpdateMany        = "updateMany"
	ActionUpsert            = "upsert"
	ActionDelete            = "delete"
	ActionDeleteMany        = "deleteMany"
	ActionCount             = "count"
	ActionAggregate         = "aggregate"
	ActionGroupBy           = "groupBy"
)

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrUnknownAction = errors.New("unknown action")
	ErrReadOnly      = errors.New("model is read only")
)

var writeActions = map[string]bool{
	ActionCreate:     true,
	ActionCreateMany: true,
	ActionUpdate:     true,
	ActionUpdateMany: true,
	ActionUpsert:     true,
	ActionDelete:     true,
	ActionDeleteMany: true,
}

// IsWrite reports whether action modifies rows.
func IsWrite(action string) bool {
	return writeActions[action]
}

// Operation is one model call, e.g. {"model": "carListing", "action": "findMany", "args": {...}}.
type Operation struct {
	Model  string          `json:"model"`
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type dispatcher interface {
	dispatch(ctx context.Context, c *database.Client, action string, args json.RawMessage) (interface{}, error)
}

// entity dispatches operations for one model. changed, when set, is called
// inside the write transaction with the affected rows: the new state for
// creates and updates, the old state for deletes.
type entity[T any] struct {
	repo     func(*database.Client) *repository.Repository[T]
	readOnly bool
	changed  func(ctx context.Context, tx *database.Client, kind string, rows []T, data repository.Data) error
}

type createArgs[T any] struct {
	Data    T                   `json:"data"`
	Include repository.Include  `json:"include,omitempty"`
	Select  repository.FieldSet `json:"select,omitempty"`
	Omit    repository.FieldSet `json:"omit,omitempty"`
}

type createManyArgs[T any] struct {
	Data           []T  `json:"data"`
	SkipDuplicates bool `json:"skipDuplicates,omitempty"`
}

type updateArgs struct {
	Where   repository.Where    `json:"where"`
	Data    repository.Data     `json:"data"`
	Include repository.Include  `json:"include,omitempty"`
	Select  repository.FieldSet `json:"select,omitempty"`
	Omit    repository.FieldSet `json:"omit,omitempty"`
}

type upsertArgs[T any] struct {
	Where   repository.Where    `json:"where"`
	Create  T                   `json:"create"`
	Update  repository.Data     `json:"update"`
	Include repository.Include  `json:"include,omitempty"`
	Select  repository.FieldSet `json:"select,omitempty"`
	Omit    repository.FieldSet `json:"omit,omitempty"`
}

type whereArgs struct {
	Where repository.Where `json:"where,omitempty"`
}

type deleteArgs struct {
	Where  repository.Where    `json:"where"`
	Select repository.FieldSet `json:"select,omitempty"`
	Omit   repository.FieldSet `json:"omit,omitempty"`
}

// countResult mirrors the shape of the *Many write results.
type countResult struct {
	Count int64 `json:"count"`
}

func decodeArgs(model string, raw json.RawMessage, dst interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &repository.ValidationError{Model: model, Field: "args", Err: fmt.Errorf("%w: %v", repository.ErrInvalidArgs, err)}
	}
	return nil
}

func (e *entity[T]) dispatch(ctx context.Context, c *database.Client, action string, raw json.RawMessage) (interface{}, error) {
	r := e.repo(c)
	if e.readOnly && IsWrite(action) {
		return nil, &repository.ValidationError{Model: r.Name(), Field: "action", Err: fmt.Errorf("%w: %s", ErrReadOnly, action)}
	}

	switch action {
	case ActionFindUnique, ActionFindUniqueOrThrow:
		var a repository.UniqueArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		find := r.FindUnique
		if action == ActionFindUniqueOrThrow {
			find = r.FindUniqueOrThrow
		}
		row, err := find(ctx, a)
		if err != nil || row == nil {
			return nil, err
		}
		return r.Project(row, repository.Projection{Select: a.Select, Omit: a.Omit, Include: a.Include})

	case ActionFindFirst, ActionFindFirstOrThrow, ActionFindMany:
		var a repository.FindArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		p := repository.Projection{Select: a.Select, Omit: a.Omit, Include: a.Include}
		if action == ActionFindMany {
			rows, err := r.FindMany(ctx, a)
			if err != nil {
				return nil, err
			}
			return r.Project(rows, p)
		}
		find := r.FindFirst
		if action == ActionFindFirstOrThrow {
			find = r.FindFirstOrThrow
		}
		row, err := find(ctx, a)
		if err != nil || row == nil {
			return nil, err
		}
		return r.Project(row, p)

	case ActionCount:
		var a whereArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		return r.Count(ctx, a.Where)

	case ActionAggregate:
		var a repository.AggregateArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		return r.Aggregate(ctx, a)

	case ActionGroupBy:
		var a repository.GroupByArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		return r.GroupBy(ctx, a)

	case ActionCreate:
		var a createArgs[T]
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		row, err := r.Create(ctx, &a.Data)
		if err != nil {
			return nil, err
		}
		if err := e.notify(ctx, c, domain.ListingCreated, []T{*row}, nil); err != nil {
			return nil, err
		}
		return e.result(ctx, r, row, a.Include, a.Select, a.Omit)

	case ActionCreateMany:
		var a createManyArgs[T]
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		n, err := r.CreateMany(ctx, a.Data, a.SkipDuplicates)
		if err != nil {
			return nil, err
		}
		if e.changed != nil && n > 0 {
			// skipped duplicates carry ids that were never stored
			ids := make([]interface{}, 0, len(a.Data))
			for i := range a.Data {
				ids = append(ids, r.PrimaryKey(ctx, &a.Data[i]))
			}
			rows, err := r.FindMany(ctx, repository.FindArgs{Where: r.KeysWhere(ids)})
			if err != nil {
				return nil, err
			}
			if err := e.notify(ctx, c, domain.ListingCreated, rows, nil); err != nil {
				return nil, err
			}
		}
		return countResult{Count: n}, nil

	case ActionUpdate:
		var a updateArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		row, err := r.Update(ctx, a.Where, a.Data)
		if err != nil {
			return nil, err
		}
		if err := e.notify(ctx, c, domain.ListingUpdated, []T{*row}, a.Data); err != nil {
			return nil, err
		}
		return e.result(ctx, r, row, a.Include, a.Select, a.Omit)

	case ActionUpdateMany:
		var a updateArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		if a.Include != nil || a.Select != nil || a.Omit != nil {
			return nil, &repository.ValidationError{Model: r.Name(), Field: "args", Err: fmt.Errorf("%w: updateMany returns a count", repository.ErrInvalidArgs)}
		}
		var ids []interface{}
		if e.changed != nil {
			var err error
			if ids, err = r.IDs(ctx, a.Where); err != nil {
				return nil, err
			}
		}
		n, err := r.UpdateMany(ctx, a.Where, a.Data)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			rows, err := r.FindMany(ctx, repository.FindArgs{Where: r.KeysWhere(ids)})
			if err != nil {
				return nil, err
			}
			if err := e.notify(ctx, c, domain.ListingUpdated, rows, a.Data); err != nil {
				return nil, err
			}
		}
		return countResult{Count: n}, nil

	case ActionUpsert:
		var a upsertArgs[T]
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		kind := domain.ListingCreated
		if e.changed != nil {
			existing, err := r.FindUnique(ctx, repository.UniqueArgs{Where: a.Where})
			if err != nil {
				return nil, err
			}
			if existing != nil {
				kind = domain.ListingUpdated
			}
		}
		row, err := r.Upsert(ctx, a.Where, &a.Create, a.Update)
		if err != nil {
			return nil, err
		}
		data := a.Update
		if kind == domain.ListingCreated {
			data = nil
		}
		if err := e.notify(ctx, c, kind, []T{*row}, data); err != nil {
			return nil, err
		}
		return e.result(ctx, r, row, a.Include, a.Select, a.Omit)

	case ActionDelete:
		var a deleteArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		row, err := r.Delete(ctx, a.Where)
		if err != nil {
			return nil, err
		}
		if err := e.notify(ctx, c, domain.ListingDeleted, []T{*row}, nil); err != nil {
			return nil, err
		}
		return r.Project(row, repository.Projection{Select: a.Select, Omit: a.Omit})

	case ActionDeleteMany:
		var a whereArgs
		if err := decodeArgs(r.Name(), raw, &a); err != nil {
			return nil, err
		}
		var before []T
		if e.changed != nil {
			var err error
			if before, err = r.FindMany(ctx, repository.FindArgs{Where: a.Where}); err != nil {
				return nil, err
			}
		}
		n, err := r.DeleteMany(ctx, a.Where)
		if err != nil {
			return nil, err
		}
		if err := e.notify(ctx, c, domain.ListingDeleted, before, nil); err != nil {
			return nil, err
		}
		return countResult{Count: n}, nil
	}
	return nil, &repository.ValidationError{Model: r.Name(), Field: "action", Err: fmt.Errorf("%w: %q", ErrUnknownAction, action)}
}

func (e *entity[T]) notify(ctx context.Context, c *database.Client, kind string, rows []T, data repository.Data) error {
	if e.changed == nil || len(rows) == 0 {
		return nil
	}
	return e.changed(ctx, c, kind, rows, data)
}

// result reloads row with include when asked and applies select/omit.
func (e *entity[T]) result(ctx context.Context, r *repository.Repository[T], row *T, inc repository.Include, sel, omit repository.FieldSet) (interface{}, error) {
	if len(inc) > 0 {
		var err error
		row, err = r.FindUniqueOrThrow(ctx, repository.UniqueArgs{Where: r.KeyOf(ctx, row), Include: inc})
		if err != nil {
			return nil, err
		}
	}
	return r.Project(row, repository.Projection{Select: sel, Omit: omit, Include: inc})
}
