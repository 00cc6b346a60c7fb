package journal

import "encoding/binary"

// Keyspace:
//
//	j/meta                 - lastSeq (8B BE)
//	j/i/{item_id}/{seq8BE} - transition record, per-item ordered history
const (
	metaKeyStr   = "j/meta"
	itemPrefix   = "j/i/"
	keySeparator = "/"
)

// MetaKey returns the journal metadata key.
func MetaKey() []byte { return []byte(metaKeyStr) }

// ItemKey returns the key for one transition of one item.
func ItemKey(itemID string, seq uint64) []byte {
	prefix := itemPrefix + itemID + keySeparator
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// ItemPrefix returns the scan prefix for one item's history.
func ItemPrefix(itemID string) []byte {
	return []byte(itemPrefix + itemID + keySeparator)
}

// AllPrefix returns the scan prefix covering every item's records.
func AllPrefix() []byte { return []byte(itemPrefix) }

// UpperBound returns the exclusive end key for a prefix scan.
func UpperBound(prefix []byte) []byte {
	hi := make([]byte, len(prefix)+1)
	copy(hi, prefix)
	hi[len(prefix)] = 0xFF
	return hi
}
