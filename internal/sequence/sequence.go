// Package sequence plans order changes for densely ordered siblings (chapters
// in a course, lessons in a chapter, questions in a quiz) and validates the
// unlock-after references between them.
//
// Planning is pure: callers read the full sibling set inside a transaction,
// ask for a plan, and persist the returned changes as one batch.
package sequence

import (
	"fmt"
	"sort"

	"github.com/p-n-ai/pai-courses/internal/course"
)

// Item is one sibling in a scope.
type Item struct {
	ID          string
	Order       int
	UnlockAfter string
}

// Change assigns a new order to an existing sibling.
type Change struct {
	ID    string
	Order int
}

// Orders converts changes to the map form the store accepts.
func Orders(changes []Change) map[string]int {
	m := make(map[string]int, len(changes))
	for _, c := range changes {
		m[c.ID] = c.Order
	}
	return m
}

// Insert plans the insertion of a new item requested at order k into a scope
// of N items. k beyond N+1 appends; every item at or after the assigned
// order moves up by one.
func Insert(items []Item, k int) (int, []Change, error) {
	if k < 1 {
		return 0, nil, course.Invalid("order", "must be at least 1, got %d", k)
	}
	if n := len(items); k > n+1 {
		k = n + 1
	}

	var changes []Change
	for _, it := range items {
		if it.Order >= k {
			changes = append(changes, Change{ID: it.ID, Order: it.Order + 1})
		}
	}
	return k, changes, nil
}

// Move plans moving id from order from to order to as an in-place rotation.
// A from that no longer matches the stored order means the caller acted on a
// stale view and yields ErrConflict. to is clamped to the last position.
func Move(items []Item, id string, from, to int) ([]Change, error) {
	cur, ok := find(items, id)
	if !ok {
		return nil, course.NotFound("item", id)
	}
	if cur.Order != from {
		return nil, fmt.Errorf("item %s is at order %d, not %d: %w", id, cur.Order, from, course.ErrConflict)
	}
	if to < 1 {
		return nil, course.Invalid("order", "must be at least 1, got %d", to)
	}
	if n := len(items); to > n {
		to = n
	}
	if from == to {
		return nil, nil
	}

	var changes []Change
	for _, it := range items {
		if it.ID == id {
			continue
		}
		switch {
		case from < to && it.Order > from && it.Order <= to:
			changes = append(changes, Change{ID: it.ID, Order: it.Order - 1})
		case from > to && it.Order >= to && it.Order < from:
			changes = append(changes, Change{ID: it.ID, Order: it.Order + 1})
		}
	}
	return append(changes, Change{ID: id, Order: to}), nil
}

// Remove plans closing the gap left by id.
func Remove(items []Item, id string) ([]Change, error) {
	cur, ok := find(items, id)
	if !ok {
		return nil, course.NotFound("item", id)
	}
	var changes []Change
	for _, it := range items {
		if it.Order > cur.Order {
			changes = append(changes, Change{ID: it.ID, Order: it.Order - 1})
		}
	}
	return changes, nil
}

// Apply returns a copy of items with changes applied, sorted by order.
func Apply(items []Item, changes []Change) []Item {
	orders := Orders(changes)
	out := make([]Item, len(items))
	for i, it := range items {
		if o, ok := orders[it.ID]; ok {
			it.Order = o
		}
		out[i] = it
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Dependents returns the IDs of items that unlock after id.
func Dependents(items []Item, id string) []string {
	var ids []string
	for _, it := range items {
		if it.UnlockAfter == id {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// CheckDense reports an error unless the orders are exactly 1..N.
func CheckDense(items []Item) error {
	seen := make([]bool, len(items)+1)
	for _, it := range items {
		if it.Order < 1 || it.Order > len(items) || seen[it.Order] {
			return fmt.Errorf("order %d of %s breaks 1..%d", it.Order, it.ID, len(items))
		}
		seen[it.Order] = true
	}
	return nil
}

func find(items []Item, id string) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}
