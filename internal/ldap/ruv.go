package ldap

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	ruvGenerationRegex = regexp.MustCompile(`^\{replicageneration\}\s+(\S+)$`)
	ruvReplicaRegex    = regexp.MustCompile(`^\{replica\s+(\d+)\s+(ldaps?://\S+?)\}(?:\s+(\S+)\s+(\S+))?\s*$`)
	ruvModifiedRegex   = regexp.MustCompile(`^\{replica\s+(\d+)\s+(ldaps?://\S+?)\}\s+([0-9a-fA-F]+)\s*$`)
)

// RUVElement is one replica's entry in an RUV.
type RUVElement struct {
	RID          uint16
	URL          string
	MinCSN       *CSN // nil when the replica has no changes yet
	MaxCSN       *CSN
	LastModified time.Time // zero when nsruvReplicaLastModified has no value for the replica
}

// RUV is a parsed replica update vector.
type RUV struct {
	generation string
	replicas   map[uint16]*RUVElement
}

// ParseRUV parses nsds50ruv values, and optionally the matching
// nsruvReplicaLastModified values. Errors wrap ErrMalformedRUV.
func ParseRUV(values, lastModified []string) (*RUV, error) {
	ruv := &RUV{replicas: make(map[uint16]*RUVElement)}

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if m := ruvGenerationRegex.FindStringSubmatch(v); m != nil {
			ruv.generation = m[1]
			continue
		}

		m := ruvReplicaRegex.FindStringSubmatch(v)
		if m == nil {
			return nil, fmt.Errorf("%w: unrecognized value %q", ErrMalformedRUV, v)
		}

		rid, err := parseRID(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedRUV, v, err)
		}

		elem := &RUVElement{RID: rid, URL: m[2]}
		if m[3] != "" {
			minCSN, err := ParseCSN(m[3])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: min CSN: %w", ErrMalformedRUV, v, err)
			}
			maxCSN, err := ParseCSN(m[4])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: max CSN: %w", ErrMalformedRUV, v, err)
			}
			elem.MinCSN, elem.MaxCSN = &minCSN, &maxCSN
		}
		ruv.replicas[rid] = elem
	}

	if ruv.generation == "" {
		return nil, fmt.Errorf("%w: missing replicageneration", ErrMalformedRUV)
	}

	for _, v := range lastModified {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		m := ruvModifiedRegex.FindStringSubmatch(v)
		if m == nil {
			return nil, fmt.Errorf("%w: unrecognized last modified value %q", ErrMalformedRUV, v)
		}
		rid, err := parseRID(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedRUV, v, err)
		}
		ts, err := strconv.ParseUint(m[3], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedRUV, v, err)
		}
		if elem, ok := ruv.replicas[rid]; ok && ts != 0 {
			elem.LastModified = time.Unix(int64(ts), 0).UTC()
		}
	}

	return ruv, nil
}

// parseRID accepts replica IDs 1..65535. 389-DS never assigns 0.
func parseRID(s string) (uint16, error) {
	rid, err := strconv.ParseUint(s, 10, 16)
	switch {
	case err != nil:
		return 0, fmt.Errorf("replica id %q: %w", s, err)
	case rid == 0:
		return 0, errors.New("replica id 0 is not assigned by the server")
	}
	return uint16(rid), nil
}

// Generation returns the replica generation.
func (r *RUV) Generation() string {
	return r.generation
}

// Replicas returns the elements ordered by replica ID.
func (r *RUV) Replicas() []*RUVElement {
	out := make([]*RUVElement, 0, len(r.replicas))
	for _, elem := range r.replicas {
		out = append(out, elem)
	}
	slices.SortFunc(out, func(a, b *RUVElement) int {
		return cmp.Compare(a.RID, b.RID)
	})
	return out
}

// Replica returns the element for rid.
func (r *RUV) Replica(rid uint16) (*RUVElement, bool) {
	elem, ok := r.replicas[rid]
	return elem, ok
}

// RUVDiffKind classifies one replica ID in an RUV comparison.
type RUVDiffKind string

const (
	RUVMissingInOther RUVDiffKind = "missing_in_other"
	RUVMissingInSelf  RUVDiffKind = "missing_in_self"
	RUVAhead          RUVDiffKind = "ahead"
	RUVBehind         RUVDiffKind = "behind"
)

// RUVDiff is one per-replica difference reported by RUV.Compare.
type RUVDiff struct {
	RID         uint16
	Kind        RUVDiffKind
	SelfMaxCSN  *CSN
	OtherMaxCSN *CSN
}

// Compare returns the replicas on which r and other differ, ordered by RID.
// A replica with no max CSN on one side but a CSN on the other is ahead or
// behind; replicas equal on both sides are omitted.
func (r *RUV) Compare(other *RUV) []RUVDiff {
	var diffs []RUVDiff

	for _, elem := range r.Replicas() {
		theirs, ok := other.replicas[elem.RID]
		if !ok {
			diffs = append(diffs, RUVDiff{RID: elem.RID, Kind: RUVMissingInOther, SelfMaxCSN: elem.MaxCSN})
			continue
		}
		switch c := compareMaxCSN(elem.MaxCSN, theirs.MaxCSN); {
		case c > 0:
			diffs = append(diffs, RUVDiff{RID: elem.RID, Kind: RUVAhead, SelfMaxCSN: elem.MaxCSN, OtherMaxCSN: theirs.MaxCSN})
		case c < 0:
			diffs = append(diffs, RUVDiff{RID: elem.RID, Kind: RUVBehind, SelfMaxCSN: elem.MaxCSN, OtherMaxCSN: theirs.MaxCSN})
		}
	}

	for _, elem := range other.Replicas() {
		if _, ok := r.replicas[elem.RID]; !ok {
			diffs = append(diffs, RUVDiff{RID: elem.RID, Kind: RUVMissingInSelf, OtherMaxCSN: elem.MaxCSN})
		}
	}

	slices.SortStableFunc(diffs, func(a, b RUVDiff) int {
		return cmp.Compare(a.RID, b.RID)
	})
	return diffs
}

// Dominates reports whether r has seen every change other has: for each
// replica in other with a max CSN, r holds an equal or later one.
func (r *RUV) Dominates(other *RUV) bool {
	for rid, theirs := range other.replicas {
		if theirs.MaxCSN == nil {
			continue
		}
		mine, ok := r.replicas[rid]
		if !ok || compareMaxCSN(mine.MaxCSN, theirs.MaxCSN) < 0 {
			return false
		}
	}
	return true
}

// InSync reports whether r and other share a generation and dominate each other.
func (r *RUV) InSync(other *RUV) bool {
	return r.generation == other.generation && r.Dominates(other) && other.Dominates(r)
}

// compareMaxCSN treats a missing CSN as older than any CSN.
func compareMaxCSN(a, b *CSN) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}
