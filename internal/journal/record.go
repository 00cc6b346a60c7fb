package journal

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"time"

	"github.com/oxbowlabs/steward/internal/work"
)

// Record is one state transition of one item, as persisted. Together the
// records for an item form its full history, which escalation notifications
// embed verbatim.
type Record struct {
	ItemID          string        `json:"item_id"`
	Role            work.Role     `json:"role"`
	Priority        work.Priority `json:"priority"`
	From            work.State    `json:"from"`
	To              work.State    `json:"to"`
	AtMs            int64         `json:"at_ms"`
	Attempt         int           `json:"attempt"`
	LastError       string        `json:"last_error,omitempty"`
	EscalationLevel int           `json:"escalation_level,omitempty"`
	Withdrawn       bool          `json:"withdrawn,omitempty"`
}

// At returns the transition time.
func (r Record) At() time.Time { return time.UnixMilli(r.AtMs).UTC() }

// Stored value: payload | crc32c(payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord marshals a record with a trailing checksum.
func EncodeRecord(r Record) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, payload...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(payload, castagnoli))
	return append(out, cb[:]...), nil
}

// DecodeRecord verifies the checksum and unmarshals. ok is false for short
// or corrupt values.
func DecodeRecord(b []byte) (Record, bool) {
	if len(b) < 4 {
		return Record{}, false
	}
	payload := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(payload, castagnoli) != expect {
		return Record{}, false
	}
	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return Record{}, false
	}
	return r, true
}
