package gen

import (
	"github.com/cheekybits/genny/generic"
)

//go:generate genny -in=doubly_linked.go -out=../joy/page_list.go -pkg=joy gen "Generic=Page"

type Generic generic.Type

// NoGeneric is the index that terminates a list.
const NoGeneric = int32(-1)

// GenericLink is embedded in each element of an arena (a slice indexed by
// int32) so that the element can be threaded onto one GenericList.
type GenericLink struct {
	prev int32
	next int32
}

// Reset makes the link point nowhere.
func (l *GenericLink) Reset() {
	l.prev = NoGeneric
	l.next = NoGeneric
}

// Linked returns true if the element is not known to be off every list.
// An element that is the only member of a list also reports false, so this
// is only a hint.
func (l *GenericLink) Linked() bool {
	return l.prev != NoGeneric || l.next != NoGeneric
}

// GenericLinker maps an arena index to the link stored in that element.
type GenericLinker func(i int32) *GenericLink

// GenericList implements a doubly linked list whose nodes are arena indices
// rather than pointers. It is not concurrent safe.
type GenericList struct {
	first int32
	last  int32
	count int
	link  GenericLinker
}

// NewGenericList returns an empty list over the arena reached by link.
// Note: It returns a value, not a pointer but the methods have
// pointer receivers.
func NewGenericList(link GenericLinker) GenericList {
	return GenericList{first: NoGeneric, last: NoGeneric, link: link}
}

// Empty returns true if the list is empty.
func (g *GenericList) Empty() bool {
	if g.first == NoGeneric {
		if g.last != NoGeneric {
			panic("invariant violated checking for Empty")
		}
		return true
	}
	return false
}

// Length returns the number of elements in the list.
func (g *GenericList) Length() int {
	return g.count
}

// First returns the index at the front of the list or NoGeneric.
func (g *GenericList) First() int32 {
	return g.first
}

// Last returns the index at the end of the list or NoGeneric.
func (g *GenericList) Last() int32 {
	return g.last
}

// Next returns the index after i, NoGeneric at the end of the list.
func (g *GenericList) Next(i int32) int32 {
	return g.link(i).next
}

// Push puts i at the front of the list.  Traversals that start at the front
// will see it first.
func (g *GenericList) Push(i int32) {
	n := g.link(i)
	if n.prev != NoGeneric || n.next != NoGeneric || g.first == i {
		panic("attempt to push element that is likely a member of " +
			"another list (Push)")
	}
	if g.first == NoGeneric {
		if g.last != NoGeneric {
			panic("invariant of empty list is broken (Push)")
		}
		g.first = i
		g.last = i
		g.count = 1
		return
	}
	old := g.link(g.first)
	if old.prev != NoGeneric {
		panic("invariant of first node of list is broken (Push)")
	}
	old.prev = i
	n.next = g.first
	g.first = i
	g.count++
}

// Append puts i at the end of the list.
func (g *GenericList) Append(i int32) {
	n := g.link(i)
	if n.prev != NoGeneric || n.next != NoGeneric || g.last == i {
		panic("attempt to append element that is likely a member of " +
			"another list (Append)")
	}
	if g.last == NoGeneric {
		g.Push(i)
		return
	}
	old := g.link(g.last)
	if old.next != NoGeneric {
		panic("invariant of last node of list is broken (Append)")
	}
	old.next = i
	n.prev = g.last
	g.last = i
	g.count++
}

// Remove takes i out of the list.  i must be a member of this list.
func (g *GenericList) Remove(i int32) {
	n := g.link(i)
	if n.prev == NoGeneric {
		if g.first != i {
			panic("invariant of removing first element violated")
		}
		g.first = n.next
	} else {
		g.link(n.prev).next = n.next
	}
	if n.next == NoGeneric {
		if g.last != i {
			panic("invariant of removing last element violated")
		}
		g.last = n.prev
	} else {
		g.link(n.next).prev = n.prev
	}
	n.Reset()
	g.count--
}

// Pop removes and returns the first element, or NoGeneric if the list is
// empty.
func (g *GenericList) Pop() int32 {
	f := g.first
	if f == NoGeneric {
		return NoGeneric
	}
	g.Remove(f)
	return f
}

// Traverse walks the list from the front.  If fn returns an error the walk
// stops and that error is returned.  fn must not modify the list.
func (g *GenericList) Traverse(fn func(i int32) error) error {
	for curr := g.first; curr != NoGeneric; curr = g.link(curr).next {
		if err := fn(curr); err != nil {
			return err
		}
	}
	return nil
}
