package ospf

import (
	"cmp"
	"slices"
	"time"
)

type lsdb map[LSAKey]*installedLSA

type installedLSA struct {
	*LSA
	installedAt time.Duration
}

func newLSDB() lsdb {
	return lsdb(make(map[LSAKey]*installedLSA))
}

func (db lsdb) sortedKeys() []LSAKey {
	keys := make([]LSAKey, 0, len(db))
	for k := range db {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, LSAKey.Compare)
	return keys
}

// Compare orders keys by type, then link state ID, then advertising
// router.
func (k LSAKey) Compare(other LSAKey) int {
	if c := cmp.Compare(k.Type, other.Type); c != 0 {
		return c
	}
	if c := k.ID.Compare(other.ID); c != 0 {
		return c
	}
	return cmp.Compare(k.AdvertisingRouter, other.AdvertisingRouter)
}
