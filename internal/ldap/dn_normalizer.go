package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeDN lowercases dn and rewrites it in the canonical form 389-DS
// uses for replica roots and mapping tree lookups: RDNs joined by ",", no
// surrounding spaces, quoted values unquoted, and values escaped per
// RFC 4514 with '=' escaped as well.
//
//	dc=example, dc=com               -> dc=example,dc=com
//	cn="dc=example,dc=com",cn=config -> cn=dc\=example\,dc\=com,cn=config
func NormalizeDN(dn string) (string, error) {
	return normalizeDN(dn, ",")
}

// NormalizeDNSpaced is NormalizeDN with ", " between RDNs.
func NormalizeDNSpaced(dn string) (string, error) {
	return normalizeDN(dn, ", ")
}

// MustNormalizeDN returns the normalized DN, or the lowercased input if it does not parse.
func MustNormalizeDN(dn string) string {
	ndn, err := NormalizeDN(dn)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(dn))
	}
	return ndn
}

func normalizeDN(dn, sep string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := parseDN(strings.ToLower(dn))
	if err != nil {
		return "", err
	}

	return formatDN(parsed.RDNs, sep), nil
}

func formatDN(rdns []*ldap.RelativeDN, sep string) string {
	parts := make([]string, 0, len(rdns))
	for _, rdn := range rdns {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToLower(attr.Type)+"="+escapeNormalizedValue(attr.Value))
		}
		parts = append(parts, strings.Join(attrs, "+"))
	}
	return strings.Join(parts, sep)
}

func escapeNormalizedValue(v string) string {
	return strings.ReplaceAll(EscapeDNValue(v), "=", `\=`)
}

// parseDN wraps ldap.ParseDN and also accepts RFC 1779 quoted values
// (cn="a,b"), which older 389-DS tooling writes into mapping tree names.
func parseDN(dn string) (*ldap.DN, error) {
	if strings.Contains(dn, `"`) {
		var err error
		if dn, err = unquoteDNValues(dn); err != nil {
			return nil, err
		}
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}
	return parsed, nil
}

// unquoteDNValues rewrites every quoted attribute value as an escaped one.
func unquoteDNValues(dn string) (string, error) {
	var b strings.Builder
	b.Grow(len(dn) + 8)

	afterEquals := false
	for i := 0; i < len(dn); i++ {
		c := dn[i]
		switch {
		case c == '\\' && i+1 < len(dn):
			b.WriteByte(c)
			b.WriteByte(dn[i+1])
			i++
			afterEquals = false
			continue
		case c == '=':
			b.WriteByte(c)
			afterEquals = true
			continue
		case c == ' ' && afterEquals:
			continue
		case c == '"' && afterEquals:
			end := closingQuote(dn, i+1)
			if end < 0 {
				return "", fmt.Errorf("invalid DN syntax: unterminated quoted value in %q", dn)
			}
			b.WriteString(escapeNormalizedValue(strings.ReplaceAll(dn[i+1:end], `\"`, `"`)))
			i = end
		case c == ',' || c == ';' || c == '+':
			b.WriteByte(c)
			afterEquals = false
			continue
		default:
			b.WriteByte(c)
		}
		afterEquals = false
	}

	return b.String(), nil
}

func closingQuote(s string, from int) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// IsDN reports whether s looks like a DN rather than a bare name.
func IsDN(s string) bool {
	return strings.Index(s, "=") > 0
}

// EqualDN reports whether two DNs are equal after normalization.
func EqualDN(a, b string) bool {
	na, errA := NormalizeDN(a)
	nb, errB := NormalizeDN(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return na == nb
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	_, err := parseDN(dn)
	return err
}

// ExtractRDNValue returns the value of the first RDN attribute of type attrType.
func ExtractRDNValue(dn, attrType string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := parseDN(dn)
	if err != nil {
		return "", err
	}

	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, attrType) {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type '%s' not found in DN '%s'", attrType, dn)
}

// FirstRDN returns the type and value of the leading RDN of dn.
func FirstRDN(dn string) (attrType, value string, err error) {
	parsed, err := parseDN(dn)
	if err != nil {
		return "", "", err
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", "", fmt.Errorf("DN has no RDN: %q", dn)
	}
	first := parsed.RDNs[0].Attributes[0]
	return strings.ToLower(first.Type), first.Value, nil
}

// GetDNParent returns the normalized parent of dn.
func GetDNParent(dn string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsed, err := parseDN(strings.ToLower(strings.TrimSpace(dn)))
	if err != nil {
		return "", err
	}
	if len(parsed.RDNs) <= 1 {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}

	return formatDN(parsed.RDNs[1:], ","), nil
}

// IsDNChild reports whether childDN is below parentDN.
func IsDNChild(childDN, parentDN string) (bool, error) {
	if childDN == "" || parentDN == "" {
		return false, fmt.Errorf("DNs cannot be empty")
	}

	child, err := parseDN(childDN)
	if err != nil {
		return false, fmt.Errorf("invalid child DN syntax: %w", err)
	}

	parent, err := parseDN(parentDN)
	if err != nil {
		return false, fmt.Errorf("invalid parent DN syntax: %w", err)
	}

	return parent.AncestorOfFold(child), nil
}
