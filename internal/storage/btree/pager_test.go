package btree

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// memPager is an in-memory Pager. Committed pages are kept encoded so every
// read after commit goes through the page codec.
type memPager struct {
	ps    int
	pages map[storage.PageID][]byte
	dirty map[storage.PageID]*Node
	freed map[storage.PageID]int
	next  storage.PageID
}

func newMemPager(ps int) *memPager {
	return &memPager{
		ps:    ps,
		pages: make(map[storage.PageID][]byte),
		dirty: make(map[storage.PageID]*Node),
		freed: make(map[storage.PageID]int),
		next:  storage.NumMetas,
	}
}

func (p *memPager) PageSize() int { return p.ps }

func (p *memPager) Node(id storage.PageID) (*Node, error) {
	if n, ok := p.dirty[id]; ok {
		return n, nil
	}
	buf, ok := p.pages[id]
	if !ok {
		return nil, storage.Corruptf("mem", "page %d not found", id)
	}
	return Decode(buf, id)
}

func (p *memPager) Overflow(id storage.PageID) (*Node, error) {
	if n, ok := p.dirty[id]; ok {
		return n, nil
	}
	buf, ok := p.pages[id]
	if !ok {
		return nil, storage.Corruptf("mem", "run %d not found", id)
	}
	return DecodeOverflow(buf, id, p.ps)
}

func (p *memPager) Touch(n *Node) (*Node, error) {
	if d, ok := p.dirty[n.ID]; ok {
		return d, nil
	}
	c := n.Clone()
	p.freed[n.ID] = 1
	c.ID = p.next
	p.next++
	p.dirty[c.ID] = c
	return c, nil
}

func (p *memPager) Alloc(typ storage.PageType, pages int) (*Node, error) {
	n := &Node{ID: p.next, Type: typ, Pages: pages}
	if typ == storage.PageTypeOverflow {
		n.Data = make([]byte, pages*p.ps)
	}
	p.next += storage.PageID(pages)
	p.dirty[n.ID] = n
	return n, nil
}

func (p *memPager) Free(id storage.PageID, pages int) error {
	delete(p.dirty, id)
	p.freed[id] = pages
	return nil
}

// commit encodes every dirty node into the committed page map.
func (p *memPager) commit(t *testing.T) {
	t.Helper()
	for id, n := range p.dirty {
		pages := n.Pages
		if pages == 0 {
			pages = 1
		}
		buf := make([]byte, pages*p.ps)
		require.NoError(t, n.Encode(buf))
		p.pages[id] = buf
	}
	p.dirty = make(map[storage.PageID]*Node)
}

// reachable returns every page reachable from tr, expanded per page.
func reachable(t *testing.T, tr *Tree) []storage.PageID {
	t.Helper()
	var ids []storage.PageID
	require.NoError(t, tr.Walk(func(pi PageInfo) error {
		for i := 0; i < pi.Pages; i++ {
			ids = append(ids, pi.ID+storage.PageID(i))
		}
		return nil
	}))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// requireConserved checks that reachable and freed pages partition the
// allocated range with no page counted twice.
func requireConserved(t *testing.T, p *memPager, tr *Tree) {
	t.Helper()
	seen := make(map[storage.PageID]bool)
	for _, id := range reachable(t, tr) {
		require.False(t, seen[id], "page %d reachable twice", id)
		seen[id] = true
	}
	for id, n := range p.freed {
		for i := 0; i < n; i++ {
			pg := id + storage.PageID(i)
			require.False(t, seen[pg], "page %d both reachable and freed", pg)
			seen[pg] = true
		}
	}
	for id := storage.PageID(storage.NumMetas); id < p.next; id++ {
		require.True(t, seen[id], "page %d leaked", id)
	}
}

func beKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}
