package block

import (
	"encoding/binary"
	"time"

	"github.com/cellstate/branchsync/store"
)

// MarkExpiring records that id should be deleted once now() passes
// expiresAt, supplementing §4.G's trash worker ("delete blocks marked
// expired past the configured TTL") — the rest of §4.C never names how a
// block earns an expiry, so mirroring blocks carry no expiry by default;
// only callers that opt a block into TTL-based eviction (e.g. a mirror
// relay's cache policy) call this.
func MarkExpiring(tx *store.WriteTx, id ID, expiresAt time.Time) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(expiresAt.UnixNano()))
	return tx.Bucket(store.BucketBlockExpiry).Put(id[:], buf[:])
}

// ClearExpiry removes any expiry previously set on id, e.g. once a block
// gains a durable reachable reference again.
func ClearExpiry(tx *store.WriteTx, id ID) error {
	return tx.Bucket(store.BucketBlockExpiry).Delete(id[:])
}

// SweepExpired deletes every block whose recorded expiry is at or before
// now, returning how many were removed.
func SweepExpired(tx *store.WriteTx, now time.Time) (int, error) {
	var expired []ID
	c := tx.Bucket(store.BucketBlockExpiry).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if len(v) != 8 {
			continue
		}
		at := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
		if !at.After(now) {
			var id ID
			copy(id[:], k)
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		if err := Remove(tx, id); err != nil {
			return 0, err
		}
		if err := ClearExpiry(tx, id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
