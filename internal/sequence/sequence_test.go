package sequence_test

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/p-n-ai/pai-courses/internal/course"
	"github.com/p-n-ai/pai-courses/internal/sequence"
)

func items(ids ...string) []sequence.Item {
	out := make([]sequence.Item, len(ids))
	for i, id := range ids {
		out[i] = sequence.Item{ID: id, Order: i + 1}
	}
	return out
}

func orderOf(t *testing.T, list []sequence.Item) map[string]int {
	t.Helper()
	m := make(map[string]int, len(list))
	for _, it := range list {
		m[it.ID] = it.Order
	}
	return m
}

func TestInsert_MiddleShiftsTail(t *testing.T) {
	list := items("a", "b", "c")

	k, changes, err := sequence.Insert(list, 2)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if k != 2 {
		t.Errorf("assigned order = %d, want 2", k)
	}

	got := orderOf(t, sequence.Apply(append(list, sequence.Item{ID: "new", Order: k}), changes))
	want := map[string]int{"a": 1, "new": 2, "b": 3, "c": 4}
	for id, o := range want {
		if got[id] != o {
			t.Errorf("order[%s] = %d, want %d", id, got[id], o)
		}
	}
}

func TestInsert_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		k        int
		wantK    int
		wantMods int
		wantErr  bool
	}{
		{"append at N+1", 4, 4, 0, false},
		{"clamp past end", 10, 4, 0, false},
		{"front", 1, 1, 3, false},
		{"zero", 0, 0, 0, true},
		{"negative", -2, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, changes, err := sequence.Insert(items("a", "b", "c"), tt.k)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Insert() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, course.ErrValidation) {
					t.Errorf("error %v should match ErrValidation", err)
				}
				return
			}
			if k != tt.wantK || len(changes) != tt.wantMods {
				t.Errorf("Insert() = %d, %d changes; want %d, %d", k, len(changes), tt.wantK, tt.wantMods)
			}
		})
	}
}

func TestInsert_EmptyScope(t *testing.T) {
	k, changes, err := sequence.Insert(nil, 7)
	if err != nil || k != 1 || len(changes) != 0 {
		t.Errorf("Insert(nil, 7) = %d, %v, %v; want 1, [], nil", k, changes, err)
	}
}

func TestMove(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		from, to int
		want     map[string]int
		writes   int
	}{
		{"down", "b", 2, 4, map[string]int{"a": 1, "c": 2, "d": 3, "b": 4, "e": 5}, 3},
		{"up", "d", 4, 1, map[string]int{"d": 1, "a": 2, "b": 3, "c": 4, "e": 5}, 4},
		{"clamped to end", "a", 1, 99, map[string]int{"b": 1, "c": 2, "d": 3, "e": 4, "a": 5}, 5},
		{"no-op", "c", 3, 3, map[string]int{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := items("a", "b", "c", "d", "e")
			changes, err := sequence.Move(list, tt.id, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Move() error = %v", err)
			}
			if len(changes) != tt.writes {
				t.Errorf("len(changes) = %d, want %d", len(changes), tt.writes)
			}
			got := orderOf(t, sequence.Apply(list, changes))
			for id, o := range tt.want {
				if got[id] != o {
					t.Errorf("order[%s] = %d, want %d", id, got[id], o)
				}
			}
		})
	}
}

func TestMove_Errors(t *testing.T) {
	list := items("a", "b", "c")

	if _, err := sequence.Move(list, "b", 3, 1); !errors.Is(err, course.ErrConflict) {
		t.Errorf("stale from: error = %v, want ErrConflict", err)
	}
	if _, err := sequence.Move(list, "zz", 1, 2); !errors.Is(err, course.ErrNotFound) {
		t.Errorf("unknown id: error = %v, want ErrNotFound", err)
	}
	if _, err := sequence.Move(list, "a", 1, 0); !errors.Is(err, course.ErrValidation) {
		t.Errorf("to=0: error = %v, want ErrValidation", err)
	}
}

func TestRemove(t *testing.T) {
	list := items("a", "b", "c", "d")
	changes, err := sequence.Remove(list, "b")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	var rest []sequence.Item
	for _, it := range sequence.Apply(list, changes) {
		if it.ID != "b" {
			rest = append(rest, it)
		}
	}
	if err := sequence.CheckDense(rest); err != nil {
		t.Errorf("after Remove: %v", err)
	}
	if got := orderOf(t, rest); got["c"] != 2 || got["d"] != 3 {
		t.Errorf("orders = %v, want c=2 d=3", got)
	}
}

func TestDependents(t *testing.T) {
	list := []sequence.Item{
		{ID: "a", Order: 1},
		{ID: "b", Order: 2, UnlockAfter: "a"},
		{ID: "c", Order: 3, UnlockAfter: "a"},
		{ID: "d", Order: 4, UnlockAfter: "c"},
	}
	got := sequence.Dependents(list, "a")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Dependents(a) = %v, want [b c]", got)
	}
}

// Any sequence of insert/move/remove keeps orders exactly 1..N.
func TestDensityUnderRandomOperations(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	var list []sequence.Item
	next := 0

	for step := 0; step < 2000; step++ {
		switch op := r.IntN(3); {
		case op == 0 || len(list) == 0:
			next++
			id := fmt.Sprintf("i%d", next)
			k, changes, err := sequence.Insert(list, 1+r.IntN(len(list)+3))
			if err != nil {
				t.Fatalf("step %d: Insert() error = %v", step, err)
			}
			list = sequence.Apply(append(list, sequence.Item{ID: id, Order: k}), changes)
		case op == 1:
			it := list[r.IntN(len(list))]
			changes, err := sequence.Move(list, it.ID, it.Order, 1+r.IntN(len(list)+1))
			if err != nil {
				t.Fatalf("step %d: Move() error = %v", step, err)
			}
			list = sequence.Apply(list, changes)
		default:
			it := list[r.IntN(len(list))]
			changes, err := sequence.Remove(list, it.ID)
			if err != nil {
				t.Fatalf("step %d: Remove() error = %v", step, err)
			}
			var rest []sequence.Item
			for _, x := range sequence.Apply(list, changes) {
				if x.ID != it.ID {
					rest = append(rest, x)
				}
			}
			list = rest
		}
		if err := sequence.CheckDense(list); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}
}
