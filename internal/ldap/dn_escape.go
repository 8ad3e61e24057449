package ldap

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// mappingTreeSpecials are escaped in mapping tree RDN values and suffix filters.
// The set is RFC 4514's plus space and '=', which 389-DS needs because the
// RDN value of a mapping tree entry is itself a DN.
const mappingTreeSpecials = ` "+,;<>=`

// EscapeDNValue escapes an attribute value for use in a DN (RFC 4514).
//
//	"Doe, John" -> "Doe\, John"
//	" lead"     -> "\ lead"
//	"#123"      -> "\#123"
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	last := len(value) - 1
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == 0:
			b.WriteString(`\00`)
			continue
		case strings.IndexByte(`,+"\<>;`, c) >= 0,
			c == '#' && i == 0,
			c == ' ' && (i == 0 || i == last):
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}

// UnescapeDNValue reverses EscapeDNValue, including \XX hex escapes.
// Malformed escapes are kept literally.
func UnescapeDNValue(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}

	var b strings.Builder
	b.Grow(len(value))

	for i := 0; i < len(value); i++ {
		c := value[i]
		if c != '\\' || i == len(value)-1 {
			b.WriteByte(c)
			continue
		}

		if i+2 < len(value) {
			if decoded, err := hex.DecodeString(value[i+1 : i+3]); err == nil {
				b.Write(decoded)
				i += 2
				continue
			}
		}

		b.WriteByte(value[i+1])
		i++
	}

	return b.String()
}

// NeedsDNEscaping reports whether EscapeDNValue would change value.
func NeedsDNEscaping(value string) bool {
	return value != "" && EscapeDNValue(value) != value
}

// EscapeMappingTreeValue backslash-escapes a suffix for use as the RDN value
// of its mapping tree entry.
//
//	"dc=example, dc=com" -> \"dc\=example\,\ dc\=com\"
func EscapeMappingTreeValue(dn string) string {
	var b strings.Builder
	b.Grow(len(dn) + 8)
	for i := 0; i < len(dn); i++ {
		if strings.IndexByte(mappingTreeSpecials, dn[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(dn[i])
	}
	return b.String()
}

// EscapeFilterDNValue hex-escapes the same characters as EscapeMappingTreeValue
// so that a suffix can be matched inside a search filter.
//
//	"dc=example, dc=com" -> \22dc\3dexample\2c\20dc\3dcom\22
func EscapeFilterDNValue(dn string) string {
	var b strings.Builder
	b.Grow(len(dn) + 16)
	for i := 0; i < len(dn); i++ {
		if strings.IndexByte(mappingTreeSpecials, dn[i]) >= 0 {
			fmt.Fprintf(&b, `\%x`, dn[i])
			continue
		}
		b.WriteByte(dn[i])
	}
	return b.String()
}

// SuffixFilter returns a filter matching a mapping tree entry for suffix in
// any of the forms 389-DS and its tools have written it: hex-escaped,
// normalized, normalized with spaces, quoted, and verbatim.
func SuffixFilter(suffix string) string {
	nsuffix, err := NormalizeDN(suffix)
	if err != nil {
		nsuffix = strings.ToLower(suffix)
	}
	spaced := spaceJoin(nsuffix)
	escaped := EscapeFilterDNValue(nsuffix)

	return fmt.Sprintf(`(|(cn=%s)(cn=%s)(cn=%s)(cn="%s")(cn="%s")(cn=%s)(cn="%s"))`,
		escaped, nsuffix, spaced, nsuffix, spaced, suffix, suffix)
}

// spaceJoin re-joins a normalized DN with ", " between RDNs.
func spaceJoin(ndn string) string {
	spaced, err := NormalizeDNSpaced(ndn)
	if err != nil {
		return ndn
	}
	return spaced
}
