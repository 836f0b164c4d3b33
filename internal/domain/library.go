package domain

import (
	"sort"
	"time"
)

// LibraryIndex is the queryable view behind a library screen. It is always
// rebuilt from the artifact store and never written back.
type LibraryIndex struct {
	Entries       []Metadata `json:"entries"`
	RefreshedAt   time.Time  `json:"refreshed_at"`
	SchemaVersion int64      `json:"schema_version"`
}

// NewLibraryIndex orders entries newest first, ties broken by id so the order
// is stable across contexts.
func NewLibraryIndex(entries []Metadata, schemaVersion int64) *LibraryIndex {
	sorted := make([]Metadata, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return &LibraryIndex{
		Entries:       sorted,
		RefreshedAt:   time.Now().UTC(),
		SchemaVersion: schemaVersion,
	}
}

func (l *LibraryIndex) Len() int {
	return len(l.Entries)
}

func (l *LibraryIndex) Find(id string) (Metadata, bool) {
	for _, m := range l.Entries {
		if m.ID == id {
			return m, true
		}
	}
	return Metadata{}, false
}

func (l *LibraryIndex) TotalBytes() int64 {
	var total int64
	for _, m := range l.Entries {
		total += m.SizeBytes
	}
	return total
}
