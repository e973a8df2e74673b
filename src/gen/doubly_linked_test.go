package gen

import (
	"errors"
	"testing"
)

func newArena(n int) ([]GenericLink, GenericList) {
	links := make([]GenericLink, n)
	for i := range links {
		links[i].Reset()
	}
	return links, NewGenericList(func(i int32) *GenericLink { return &links[i] })
}

func contents(t *testing.T, g *GenericList) []int32 {
	t.Helper()
	var result []int32
	if err := g.Traverse(func(i int32) error {
		result = append(result, i)
		return nil
	}); err != nil {
		t.Fatalf("traverse failed: %v", err)
	}
	return result
}

func same(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBasics(t *testing.T) {
	_, g := newArena(8)
	if !g.Empty() || g.Length() != 0 {
		t.Errorf("list not empty at start")
	}
	if g.First() != NoGeneric || g.Last() != NoGeneric {
		t.Errorf("empty list has first or last")
	}

	g.Append(1)
	g.Append(2)
	g.Push(5)
	if g.Length() != 3 {
		t.Errorf("expected length 3, got %d", g.Length())
	}
	if got := contents(t, &g); !same(got, []int32{5, 1, 2}) {
		t.Errorf("unexpected order %v", got)
	}
	if g.First() != 5 || g.Last() != 2 || g.Next(5) != 1 {
		t.Errorf("first/last/next wrong")
	}
}

func TestRemoveMiddleAndEnds(t *testing.T) {
	links, g := newArena(8)
	for i := int32(0); i < 5; i++ {
		g.Append(i)
	}
	g.Remove(2)
	if got := contents(t, &g); !same(got, []int32{0, 1, 3, 4}) {
		t.Errorf("middle remove broken: %v", got)
	}
	if links[2].Linked() {
		t.Errorf("removed element still linked")
	}
	g.Remove(0)
	g.Remove(4)
	if got := contents(t, &g); !same(got, []int32{1, 3}) {
		t.Errorf("end removes broken: %v", got)
	}
	if g.Pop() != 1 || g.Pop() != 3 || g.Pop() != NoGeneric {
		t.Errorf("pop order broken")
	}
	if !g.Empty() || g.Length() != 0 {
		t.Errorf("list should be empty")
	}
}

func TestPushTwicePanics(t *testing.T) {
	_, g := newArena(4)
	g.Push(1)
	defer func() {
		if recover() == nil {
			t.Errorf("pushing a member twice should panic")
		}
	}()
	g.Push(1)
}

func TestTraverseStops(t *testing.T) {
	_, g := newArena(4)
	g.Append(0)
	g.Append(1)
	g.Append(2)
	stop := errors.New("stop")
	seen := 0
	err := g.Traverse(func(i int32) error {
		seen++
		if i == 1 {
			return stop
		}
		return nil
	})
	if err != stop || seen != 2 {
		t.Errorf("expected traversal to stop at 1, saw %d err %v", seen, err)
	}
}
