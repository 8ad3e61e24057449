package types

import (
	"context"
	"fmt"
	"slices"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/attr/xattr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
	"github.com/hashicorp/terraform-plugin-go/tftypes"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

var (
	_ basetypes.SetTypable                    = DNStringSetType{}
	_ basetypes.SetValuableWithSemanticEquals = DNStringSetValue{}
	_ xattr.ValidateableAttribute             = DNStringSetValue{}
)

// DNStringSetType is a set of DNs, such as the bind DNs a replica accepts
// updates from. Elements are validated as DNs and compared by normalized form.
type DNStringSetType struct {
	basetypes.SetType
}

func NewDNStringSetType() DNStringSetType {
	return DNStringSetType{SetType: basetypes.SetType{ElemType: basetypes.StringType{}}}
}

func (t DNStringSetType) String() string { return "DNStringSetType" }

func (t DNStringSetType) ValueType(context.Context) attr.Value { return DNStringSetValue{} }

func (t DNStringSetType) Equal(o attr.Type) bool {
	other, ok := o.(DNStringSetType)
	return ok && t.SetType.Equal(other.SetType)
}

func (t DNStringSetType) ValueFromSet(_ context.Context, in basetypes.SetValue) (basetypes.SetValuable, diag.Diagnostics) {
	return DNStringSetValue{SetValue: in}, nil
}

func (t DNStringSetType) ValueFromTerraform(ctx context.Context, in tftypes.Value) (attr.Value, error) {
	v, err := t.SetType.ValueFromTerraform(ctx, in)
	if err != nil {
		return nil, err
	}
	s, ok := v.(basetypes.SetValue)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T for DNStringSetType", v)
	}
	return DNStringSetValue{SetValue: s}, nil
}

// DNStringSetValue is a set of DNs compared by normalized form.
type DNStringSetValue struct {
	basetypes.SetValue
}

func (v DNStringSetValue) Type(context.Context) attr.Type { return NewDNStringSetType() }

func (v DNStringSetValue) Equal(o attr.Value) bool {
	other, ok := o.(DNStringSetValue)
	return ok && v.SetValue.Equal(other.SetValue)
}

// ValidateAttribute rejects elements that are not DNs.
func (v DNStringSetValue) ValidateAttribute(ctx context.Context, req xattr.ValidateAttributeRequest, resp *xattr.ValidateAttributeResponse) {
	if v.IsNull() || v.IsUnknown() {
		return
	}
	for _, elem := range v.Elements() {
		s, ok := elem.(basetypes.StringValue)
		if !ok || s.IsNull() || s.IsUnknown() {
			continue
		}
		if err := ldapclient.ValidateDNSyntax(s.ValueString()); err != nil {
			resp.Diagnostics.AddAttributeError(req.Path, "Invalid Distinguished Name",
				fmt.Sprintf("The value %q is not a valid Distinguished Name format: %s", s.ValueString(), err))
		}
	}
}

// SetSemanticEquals reports whether both sets hold the same DNs.
func (v DNStringSetValue) SetSemanticEquals(ctx context.Context, newValuable basetypes.SetValuable) (bool, diag.Diagnostics) {
	var diags diag.Diagnostics

	newValue, ok := newValuable.(DNStringSetValue)
	if !ok {
		diags.Append(unexpectedValueType("DNStringSetValue", newValuable))
		return false, diags
	}

	if v.IsNull() || v.IsUnknown() || newValue.IsNull() || newValue.IsUnknown() {
		return v.Equal(newValue), diags
	}

	var oldDNs, newDNs []string
	diags.Append(v.ElementsAs(ctx, &oldDNs, false)...)
	diags.Append(newValue.ElementsAs(ctx, &newDNs, false)...)
	if diags.HasError() {
		return false, diags
	}

	return slices.Equal(normalizedSet(oldDNs), normalizedSet(newDNs)), diags
}

// normalizedSet returns the sorted, de-duplicated normalized forms of dns.
func normalizedSet(dns []string) []string {
	out := make([]string, len(dns))
	for i, dn := range dns {
		out[i] = ldapclient.MustNormalizeDN(dn)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// DNStringSet builds a known set from elements.
func DNStringSet(_ context.Context, elements []string) (DNStringSetValue, diag.Diagnostics) {
	values := make([]attr.Value, len(elements))
	for i, e := range elements {
		values[i] = basetypes.NewStringValue(e)
	}

	set, diags := basetypes.NewSetValue(basetypes.StringType{}, values)
	if diags.HasError() {
		return DNStringSetValue{}, diags
	}
	return DNStringSetValue{SetValue: set}, diags
}

func DNStringSetNull(context.Context) DNStringSetValue {
	return DNStringSetValue{SetValue: basetypes.NewSetNull(basetypes.StringType{})}
}

func DNStringSetUnknown(context.Context) DNStringSetValue {
	return DNStringSetValue{SetValue: basetypes.NewSetUnknown(basetypes.StringType{})}
}
