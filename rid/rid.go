// Package rid defines the row identifier shared by the B+Tree index and
// the lock manager.
package rid

import (
	"fmt"

	"coredb/storage/page"
)

// RID names a tuple by the page it lives on and its slot within that
// page. It is the value type stored in B+Tree leaves and the key used to
// scope per-row locks within a table.
type RID struct {
	PageID  page.ID
	SlotNum uint32
}

// New builds a RID.
func New(pageID page.ID, slot uint32) RID {
	return RID{PageID: pageID, SlotNum: slot}
}

// String renders the RID as "(pageID, slot)".
func (r RID) String() string {
	return fmt.Sprintf("(%d, %d)", r.PageID, r.SlotNum)
}
