package ldap

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// csnLength is the length of a CSN in hex digits.
const csnLength = 20

// CSN is a 389-DS change sequence number: the timestamp, sequence number,
// replica ID and sub-sequence number of a change.
type CSN struct {
	Timestamp uint32
	Seq       uint16
	RID       uint16
	SubSeq    uint16
}

// ParseCSN parses the 20 hex digit form, e.g. "5e7a3b1c000000010000".
func ParseCSN(s string) (CSN, error) {
	s = strings.TrimSpace(s)
	if len(s) != csnLength {
		return CSN{}, fmt.Errorf("%w: %q has length %d, want %d", ErrMalformedCSN, s, len(s), csnLength)
	}

	ts, err := strconv.ParseUint(s[0:8], 16, 32)
	if err != nil {
		return CSN{}, fmt.Errorf("%w: %q: timestamp: %v", ErrMalformedCSN, s, err)
	}

	var fields [3]uint16
	for i := range fields {
		start := 8 + i*4
		v, err := strconv.ParseUint(s[start:start+4], 16, 16)
		if err != nil {
			return CSN{}, fmt.Errorf("%w: %q: %v", ErrMalformedCSN, s, err)
		}
		fields[i] = uint16(v)
	}

	return CSN{
		Timestamp: uint32(ts),
		Seq:       fields[0],
		RID:       fields[1],
		SubSeq:    fields[2],
	}, nil
}

// String returns the CSN in its 20 hex digit form.
func (c CSN) String() string {
	return fmt.Sprintf("%08x%04x%04x%04x", c.Timestamp, c.Seq, c.RID, c.SubSeq)
}

// Time returns the CSN timestamp.
func (c CSN) Time() time.Time {
	return time.Unix(int64(c.Timestamp), 0).UTC()
}

// IsZero reports whether c is the zero CSN.
func (c CSN) IsZero() bool {
	return c == CSN{}
}

// Compare orders CSNs by timestamp, sequence, replica ID and sub-sequence.
// It returns -1, 0 or +1.
func (c CSN) Compare(other CSN) int {
	if r := cmp.Compare(c.Timestamp, other.Timestamp); r != 0 {
		return r
	}
	if r := cmp.Compare(c.Seq, other.Seq); r != 0 {
		return r
	}
	if r := cmp.Compare(c.RID, other.RID); r != 0 {
		return r
	}
	return cmp.Compare(c.SubSeq, other.SubSeq)
}

func (c CSN) Before(other CSN) bool { return c.Compare(other) < 0 }
func (c CSN) After(other CSN) bool  { return c.Compare(other) > 0 }
func (c CSN) Equal(other CSN) bool  { return c == other }
