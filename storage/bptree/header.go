package bptree

import (
	"encoding/binary"

	"coredb/storage/page"
)

// HeaderPageID is the fixed page id reserved for the index directory: a
// record of index_name -> root_page_id pairs, persisted the way
// original_source's b_plus_tree_header_page does (a supplemented feature;
// spec §6's "Persisted layout").
const HeaderPageID page.ID = 0

const (
	headerRecordNameWidth = 24
	headerRecordWidth     = headerRecordNameWidth + 4 // name + root page id
	headerMaxRecords      = (page.Size - 4) / headerRecordWidth
)

// headerView is a typed window over the fixed header page: a count
// followed by (name, root_page_id) records.
type headerView struct {
	data []byte
}

func asHeader(p *page.Page) headerView { return headerView{data: p.Data()} }

func initHeader(p *page.Page) headerView {
	h := headerView{data: p.Data()}
	h.setCount(0)
	return h
}

func (h headerView) count() int { return int(binary.LittleEndian.Uint32(h.data[0:4])) }
func (h headerView) setCount(n int) { binary.LittleEndian.PutUint32(h.data[0:4], uint32(n)) }

func (h headerView) recordOffset(i int) int { return 4 + i*headerRecordWidth }

func (h headerView) nameAt(i int) string {
	off := h.recordOffset(i)
	raw := h.data[off : off+headerRecordNameWidth]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

func (h headerView) rootAt(i int) page.ID {
	off := h.recordOffset(i) + headerRecordNameWidth
	return page.ID(int32(binary.LittleEndian.Uint32(h.data[off:])))
}

func (h headerView) setRecord(i int, name string, root page.ID) {
	off := h.recordOffset(i)
	nameBuf := h.data[off : off+headerRecordNameWidth]
	for j := range nameBuf {
		nameBuf[j] = 0
	}
	copy(nameBuf, name)
	binary.LittleEndian.PutUint32(h.data[off+headerRecordNameWidth:], uint32(int32(root)))
}

// Lookup returns the persisted root page id for indexName, or
// (InvalidID, false) if no record exists.
func (h headerView) Lookup(indexName string) (page.ID, bool) {
	for i := 0; i < h.count(); i++ {
		if h.nameAt(i) == indexName {
			return h.rootAt(i), true
		}
	}
	return page.InvalidID, false
}

// Upsert writes or overwrites indexName's root page id record.
func (h headerView) Upsert(indexName string, root page.ID) {
	for i := 0; i < h.count(); i++ {
		if h.nameAt(i) == indexName {
			h.setRecord(i, indexName, root)
			return
		}
	}
	n := h.count()
	if n >= headerMaxRecords {
		panic("bptree: header page full, cannot register another index")
	}
	h.setRecord(n, indexName, root)
	h.setCount(n + 1)
}
