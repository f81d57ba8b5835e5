package store

import (
	"encoding/binary"
	"fmt"
)

// schemaVersion is the current schema version this binary understands.
// Bump it, and add a case to upgrade, whenever BucketSnapshot*/Blocks'
// on-disk shape changes in a way old code can't read.
const schemaVersion = 1

var schemaVersionKey = []byte("schema_version")

// migrate runs once at Open/Create, inside the same write transaction that
// ensures buckets exist. It refuses to downgrade: opening a newer store with
// an older binary fails loudly rather than silently corrupting data.
func migrate(tx *WriteTx) error {
	b := tx.Bucket(BucketMetadataPublic)

	raw := b.Get(schemaVersionKey)
	if raw == nil {
		return writeSchemaVersion(b, schemaVersion)
	}

	on := binary.BigEndian.Uint64(raw)
	switch {
	case on > schemaVersion:
		return fmt.Errorf("%w: on-disk version %d > binary version %d", ErrSchemaDowngrade, on, schemaVersion)
	case on == schemaVersion:
		return nil
	default:
		// upgrade(tx, on, schemaVersion) would run here as versions accumulate.
		return writeSchemaVersion(b, schemaVersion)
	}
}

func writeSchemaVersion(b interface{ Put(k, v []byte) error }, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.Put(schemaVersionKey, buf[:])
}
