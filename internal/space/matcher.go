package space

import (
	"context"
)

// FindAll collects every tuple currently matching tmpl. It walks the space's
// non-destructive Contents cursor until exhausted and drops duplicates, so
// the result is a point-in-time snapshot: it never waits for new tuples and
// never removes anything.
func FindAll(ctx context.Context, s Space, tmpl Template, txn Transaction) ([]Tuple, error) {
	cur, err := s.Contents(ctx, tmpl, txn)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	seen := make(map[string]struct{})
	var out []Tuple
	for {
		t, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return out, nil
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, *t)
	}
}

// FindAllAs is FindAll for typed entries.
func FindAllAs[T Entry](ctx context.Context, s Space, tmpl T, txn Transaction) ([]T, error) {
	tuples, err := FindAll(ctx, s, TemplateOf(tmpl), txn)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(tuples))
	for _, t := range tuples {
		v, err := Decode[T](t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
