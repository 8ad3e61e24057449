package ldap

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// RUVTombstoneUniqueID is the nsUniqueID of the entry holding a suffix's RUV.
const RUVTombstoneUniqueID = "ffffffff-ffffffff-ffffffff-ffffffff"

// nsUniqueIDRegex matches the 389-DS form: four groups of eight hex digits.
var nsUniqueIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{8}-[0-9a-fA-F]{8}-[0-9a-fA-F]{8}$`)

// NsUniqueID is the 16-byte identifier 389-DS assigns to every entry.
type NsUniqueID [16]byte

// ParseNsUniqueID parses "xxxxxxxx-xxxxxxxx-xxxxxxxx-xxxxxxxx".
func ParseNsUniqueID(s string) (NsUniqueID, error) {
	var id NsUniqueID
	s = strings.TrimSpace(s)
	if !nsUniqueIDRegex.MatchString(s) {
		return id, fmt.Errorf("invalid nsUniqueID format: %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(strings.ReplaceAll(s, "-", ""))); err != nil {
		return id, fmt.Errorf("invalid nsUniqueID %q: %w", s, err)
	}
	return id, nil
}

// String returns the lowercase 389-DS form.
func (id NsUniqueID) String() string {
	return FormatNsUniqueID(id)
}

// IsRUVTombstone reports whether id is the RUV tombstone's ID.
func (id NsUniqueID) IsRUVTombstone() bool {
	for _, b := range id {
		if b != 0xff {
			return false
		}
	}
	return true
}

// FormatNsUniqueID renders id as "xxxxxxxx-xxxxxxxx-xxxxxxxx-xxxxxxxx".
func FormatNsUniqueID(id NsUniqueID) string {
	h := hex.EncodeToString(id[:])
	return h[0:8] + "-" + h[8:16] + "-" + h[16:24] + "-" + h[24:32]
}

// NsUniqueIDToUUID converts an nsUniqueID string to an RFC 4122 UUID with the same bytes.
func NsUniqueIDToUUID(s string) (uuid.UUID, error) {
	id, err := ParseNsUniqueID(s)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.UUID(id), nil
}

// UUIDToNsUniqueID converts a UUID string in any form uuid.Parse accepts.
func UUIDToNsUniqueID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return FormatNsUniqueID(NsUniqueID(u)), nil
}

// ExtractNsUniqueID returns the nsUniqueID of entry, or "" if it was not requested or is invalid.
func ExtractNsUniqueID(entry *ldap.Entry) string {
	if entry == nil {
		return ""
	}
	id, err := ParseNsUniqueID(entry.GetEqualFoldAttributeValue("nsUniqueId"))
	if err != nil {
		return ""
	}
	return id.String()
}
