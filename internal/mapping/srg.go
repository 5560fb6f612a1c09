package mapping

import (
	"context"
	"path"
)

type ownerKey struct {
	typ          Type
	intermediate string
}

// SrgDatabase indexes owner records by type and intermediate name.
// Duplicate rows are kept in file order.
type SrgDatabase struct {
	version string
	owners  map[ownerKey][]OwnerRecord
	count   int
}

// BuildSrgDatabase reads and indexes the owner table for src.
func BuildSrgDatabase(ctx context.Context, src Source) (*SrgDatabase, error) {
	data, err := readTable(ctx, src.Version, src.Owners)
	if err != nil {
		return nil, err
	}
	return NewSrgDatabase(src.Version, path.Base(src.Owners), data)
}

// NewSrgDatabase indexes an owner table already in memory.
func NewSrgDatabase(version, entry string, data []byte) (*SrgDatabase, error) {
	rows, err := parseOwners(version, entry, data)
	if err != nil {
		return nil, err
	}
	db := &SrgDatabase{
		version: version,
		owners:  make(map[ownerKey][]OwnerRecord, len(rows)),
		count:   len(rows),
	}
	for _, row := range rows {
		key := ownerKey{typ: row.Type, intermediate: row.Intermediate}
		db.owners[key] = append(db.owners[key], row)
	}
	return db, nil
}

// Lookup returns the owner records for an intermediate name. An empty result
// means the owner is unknown.
func (db *SrgDatabase) Lookup(t Type, intermediate string) []OwnerRecord {
	if db == nil {
		return nil
	}
	return db.owners[ownerKey{typ: t, intermediate: intermediate}]
}

// Owner returns the authoritative (first) owner class, or "" when unknown.
func (db *SrgDatabase) Owner(t Type, intermediate string) string {
	if owners := db.Lookup(t, intermediate); len(owners) > 0 {
		return owners[0].Owner
	}
	return ""
}

// Len is the number of owner rows indexed.
func (db *SrgDatabase) Len() int {
	if db == nil {
		return 0
	}
	return db.count
}
