package validators

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
)

var _ validator.String = foldedEnumValidator{}

// foldedEnumValidator accepts one of a fixed set of directory server keywords
// (bind methods, replica roles) compared without regard to case or
// surrounding whitespace. Aliases map an alternative spelling onto a
// canonical keyword.
type foldedEnumValidator struct {
	canonical []string
	aliases   map[string]string
}

func (v foldedEnumValidator) allowed() string {
	names := slices.Clone(v.canonical)
	for alias, target := range v.aliases {
		names = append(names, fmt.Sprintf("%s (%s)", alias, target))
	}
	slices.Sort(names[len(v.canonical):])
	return strings.Join(names, ", ")
}

func (v foldedEnumValidator) Description(_ context.Context) string {
	return fmt.Sprintf("value must be one of: %s (case-insensitive)", v.allowed())
}

func (v foldedEnumValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

// canonicalize returns the canonical keyword for value, if it is accepted.
func (v foldedEnumValidator) canonicalize(value string) (string, bool) {
	folded := strings.TrimSpace(value)
	for _, c := range v.canonical {
		if strings.EqualFold(folded, c) {
			return c, true
		}
	}
	for alias, target := range v.aliases {
		if strings.EqualFold(folded, alias) {
			return target, true
		}
	}
	return "", false
}

func (v foldedEnumValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if _, ok := v.canonicalize(value); ok {
		return
	}

	response.Diagnostics.AddAttributeError(
		request.Path,
		"Invalid Value",
		fmt.Sprintf("The value %q is not valid. Must be one of: %s (case-insensitive)", value, v.allowed()),
	)
}

// CaseInsensitiveOneOf returns a validator accepting any of values, ignoring
// case. 389-DS itself matches keywords such as "SASL/GSSAPI" this way.
//
// Unknown values and null values are skipped from validation.
func CaseInsensitiveOneOf(values ...string) validator.String {
	return foldedEnumValidator{canonical: values}
}

// ReplicaRole returns a validator for replica topology roles. "supplier" and
// "consumer" are accepted for master and leaf.
func ReplicaRole() validator.String {
	return foldedEnumValidator{
		canonical: []string{"master", "hub", "leaf"},
		aliases: map[string]string{
			"supplier": "master",
			"consumer": "leaf",
		},
	}
}
