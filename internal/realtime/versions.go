package realtime

import "sync"

type cellKey struct {
	sheetID string
	cellID  string
}

// CellVersions assigns the server-side monotonically increasing version for
// each (sheet, cell) pair. Concurrent updates race under last-write-wins;
// the version only tells observers which update is newest.
type CellVersions struct {
	mu       sync.Mutex
	versions map[cellKey]int64
}

func NewCellVersions() *CellVersions {
	return &CellVersions{versions: make(map[cellKey]int64)}
}

// Next returns the next version for the cell, starting at 1.
func (v *CellVersions) Next(sheetID, cellID string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := cellKey{sheetID: sheetID, cellID: cellID}
	v.versions[key]++
	return v.versions[key]
}

// Current reports the latest assigned version, zero if none.
func (v *CellVersions) Current(sheetID, cellID string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.versions[cellKey{sheetID: sheetID, cellID: cellID}]
}
