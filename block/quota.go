package block

import (
	"encoding/binary"

	"github.com/cellstate/branchsync/store"
)

// Quota bytes and usage are tracked as two keys in metadata_public rather
// than recomputed by scanning the blocks bucket on every write — the latter
// would make every write O(block count). A quota of 0 means unlimited,
// matching repo.Config.Quota's "default per-repository quota" from §6.
var (
	quotaLimitKey = []byte("quota_bytes")
	quotaUsageKey = []byte("quota_usage_bytes")
)

// SetQuota installs the repository's quota limit in bytes. 0 disables
// enforcement.
func SetQuota(tx *store.WriteTx, limit uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], limit)
	return tx.Bucket(store.BucketMetadataPublic).Put(quotaLimitKey, buf[:])
}

// Usage returns the current total on-disk size of stored blocks in bytes.
func Usage(tx store.Tx) uint64 {
	return readU64(tx, quotaUsageKey)
}

// Limit returns the configured quota in bytes, or 0 if unlimited.
func Limit(tx store.Tx) uint64 {
	return readU64(tx, quotaLimitKey)
}

func readU64(tx store.Tx, key []byte) uint64 {
	v := tx.Bucket(store.BucketMetadataPublic).Get(key)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func chargeQuota(tx *store.WriteTx, delta int64) error {
	limit := readU64(tx, quotaLimitKey)
	usage := readU64(tx, quotaUsageKey)
	if limit != 0 && usage+uint64(delta) > limit {
		return ErrQuotaExceeded
	}
	return adjustQuotaUsage(tx, delta)
}

func adjustQuotaUsage(tx *store.WriteTx, delta int64) error {
	usage := int64(readU64(tx, quotaUsageKey))
	usage += delta
	if usage < 0 {
		usage = 0
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(usage))
	return tx.Bucket(store.BucketMetadataPublic).Put(quotaUsageKey, buf[:])
}
