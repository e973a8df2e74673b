// This file was automatically generated by genny.
// Any changes will be lost if this file is regenerated.
// see https://github.com/cheekybits/genny

package joy

// NoPage is the index that terminates a list.
const NoPage = int32(-1)

// PageLink is embedded in each element of an arena (a slice indexed by
// int32) so that the element can be threaded onto one PageList.
type PageLink struct {
	prev int32
	next int32
}

// Reset makes the link point nowhere.
func (l *PageLink) Reset() {
	l.prev = NoPage
	l.next = NoPage
}

// Linked returns true if the element is not known to be off every list.
// An element that is the only member of a list also reports false, so this
// is only a hint.
func (l *PageLink) Linked() bool {
	return l.prev != NoPage || l.next != NoPage
}

// PageLinker maps an arena index to the link stored in that element.
type PageLinker func(i int32) *PageLink

// PageList implements a doubly linked list whose nodes are arena indices
// rather than pointers. It is not concurrent safe.
type PageList struct {
	first int32
	last  int32
	count int
	link  PageLinker
}

// NewPageList returns an empty list over the arena reached by link.
// Note: It returns a value, not a pointer but the methods have
// pointer receivers.
func NewPageList(link PageLinker) PageList {
	return PageList{first: NoPage, last: NoPage, link: link}
}

// Empty returns true if the list is empty.
func (g *PageList) Empty() bool {
	if g.first == NoPage {
		if g.last != NoPage {
			panic("invariant violated checking for Empty")
		}
		return true
	}
	return false
}

// Length returns the number of elements in the list.
func (g *PageList) Length() int {
	return g.count
}

// First returns the index at the front of the list or NoPage.
func (g *PageList) First() int32 {
	return g.first
}

// Last returns the index at the end of the list or NoPage.
func (g *PageList) Last() int32 {
	return g.last
}

// Next returns the index after i, NoPage at the end of the list.
func (g *PageList) Next(i int32) int32 {
	return g.link(i).next
}

// Push puts i at the front of the list.  Traversals that start at the front
// will see it first.
func (g *PageList) Push(i int32) {
	n := g.link(i)
	if n.prev != NoPage || n.next != NoPage || g.first == i {
		panic("attempt to push element that is likely a member of " +
			"another list (Push)")
	}
	if g.first == NoPage {
		if g.last != NoPage {
			panic("invariant of empty list is broken (Push)")
		}
		g.first = i
		g.last = i
		g.count = 1
		return
	}
	old := g.link(g.first)
	if old.prev != NoPage {
		panic("invariant of first node of list is broken (Push)")
	}
	old.prev = i
	n.next = g.first
	g.first = i
	g.count++
}

// Append puts i at the end of the list.
func (g *PageList) Append(i int32) {
	n := g.link(i)
	if n.prev != NoPage || n.next != NoPage || g.last == i {
		panic("attempt to append element that is likely a member of " +
			"another list (Append)")
	}
	if g.last == NoPage {
		g.Push(i)
		return
	}
	old := g.link(g.last)
	if old.next != NoPage {
		panic("invariant of last node of list is broken (Append)")
	}
	old.next = i
	n.prev = g.last
	g.last = i
	g.count++
}

// Remove takes i out of the list.  i must be a member of this list.
func (g *PageList) Remove(i int32) {
	n := g.link(i)
	if n.prev == NoPage {
		if g.first != i {
			panic("invariant of removing first element violated")
		}
		g.first = n.next
	} else {
		g.link(n.prev).next = n.next
	}
	if n.next == NoPage {
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

// Pop removes and returns the first element, or NoPage if the list is
// empty.
func (g *PageList) Pop() int32 {
	f := g.first
	if f == NoPage {
		return NoPage
	}
	g.Remove(f)
	return f
}

// Traverse walks the list from the front.  If fn returns an error the walk
// stops and that error is returned.  fn must not modify the list.
func (g *PageList) Traverse(fn func(i int32) error) error {
	for curr := g.first; curr != NoPage; curr = g.link(curr).next {
		if err := fn(curr); err != nil {
			return err
		}
	}
	return nil
}
