package execmem

import (
	"sync"

	"github.com/google/btree"
)

// live indexes every block handed out by any allocator so code patching
// can find the owner of an executable address.
var live = struct {
	mu     sync.RWMutex
	blocks *btree.BTreeG[*Block]
}{blocks: btree.NewG[*Block](8, func(a, b *Block) bool { return a.addr < b.addr })}

func track(b *Block) {
	live.mu.Lock()
	live.blocks.ReplaceOrInsert(b)
	live.mu.Unlock()
}

func untrack(b *Block) {
	live.mu.Lock()
	live.blocks.Delete(b)
	live.mu.Unlock()
}

// Lookup returns the live block containing addr, or nil.
func Lookup(addr uintptr) *Block {
	live.mu.RLock()
	defer live.mu.RUnlock()
	var found *Block
	live.blocks.DescendLessOrEqual(&Block{addr: addr}, func(b *Block) bool {
		found = b
		return false
	})
	if found == nil || !found.Contains(addr) {
		return nil
	}
	return found
}
