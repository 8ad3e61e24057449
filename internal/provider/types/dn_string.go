// Package types holds Terraform value types for directory data whose server
// spelling differs from what users write.
package types

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
	"github.com/hashicorp/terraform-plugin-go/tftypes"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

var (
	_ basetypes.StringTypable                    = DNStringType{}
	_ basetypes.StringValuableWithSemanticEquals = DNStringValue{}
)

// DNStringType is a string type for Distinguished Names. 389-DS hands back
// suffixes and bind DNs in its own spelling ("dc=Example, dc=COM" or the
// quoted cn="dc=example,dc=com" form in the mapping tree), so two values
// are semantically equal when they normalize to the same DN.
type DNStringType struct {
	basetypes.StringType
}

func (t DNStringType) String() string { return "DNStringType" }

func (t DNStringType) ValueType(context.Context) attr.Value { return DNStringValue{} }

func (t DNStringType) Equal(o attr.Type) bool {
	other, ok := o.(DNStringType)
	return ok && t.StringType.Equal(other.StringType)
}

func (t DNStringType) ValueFromString(_ context.Context, in basetypes.StringValue) (basetypes.StringValuable, diag.Diagnostics) {
	return DNStringValue{StringValue: in}, nil
}

func (t DNStringType) ValueFromTerraform(ctx context.Context, in tftypes.Value) (attr.Value, error) {
	v, err := t.StringType.ValueFromTerraform(ctx, in)
	if err != nil {
		return nil, err
	}
	s, ok := v.(basetypes.StringValue)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T for DNStringType", v)
	}
	return DNStringValue{StringValue: s}, nil
}

// DNStringValue is a DN compared by its normalized form.
type DNStringValue struct {
	basetypes.StringValue
}

func (v DNStringValue) Type(context.Context) attr.Type { return DNStringType{} }

func (v DNStringValue) Equal(o attr.Value) bool {
	other, ok := o.(DNStringValue)
	return ok && v.StringValue.Equal(other.StringValue)
}

// StringSemanticEquals reports whether both values name the same DN.
func (v DNStringValue) StringSemanticEquals(_ context.Context, newValuable basetypes.StringValuable) (bool, diag.Diagnostics) {
	var diags diag.Diagnostics

	newValue, ok := newValuable.(DNStringValue)
	if !ok {
		diags.Append(unexpectedValueType("DNStringValue", newValuable))
		return false, diags
	}

	if !v.known() || !newValue.known() {
		return v.Equal(newValue), diags
	}
	return ldapclient.EqualDN(v.ValueString(), newValue.ValueString()), diags
}

// Reconcile returns the value to store after reading observed from the
// server. A configured spelling naming the same DN is kept so reads never
// produce spurious diffs. An empty observed value is null.
func (v DNStringValue) Reconcile(observed string) DNStringValue {
	switch {
	case observed == "":
		return DNStringNull()
	case v.known() && ldapclient.EqualDN(v.ValueString(), observed):
		return v
	default:
		return DNString(observed)
	}
}

func (v DNStringValue) known() bool {
	return !v.IsNull() && !v.IsUnknown()
}

func unexpectedValueType(want string, got any) diag.Diagnostic {
	return diag.NewErrorDiagnostic(
		"Semantic Equality Check Error",
		"An unexpected value type was received while attempting to perform semantic equality checks. "+
			"This is always an error in the provider. Please report the following to the provider developer:\n\n"+
			fmt.Sprintf("Expected %s, but got: %T", want, got),
	)
}

func DNString(value string) DNStringValue {
	return DNStringValue{StringValue: basetypes.NewStringValue(value)}
}

func DNStringNull() DNStringValue {
	return DNStringValue{StringValue: basetypes.NewStringNull()}
}

func DNStringUnknown() DNStringValue {
	return DNStringValue{StringValue: basetypes.NewStringUnknown()}
}
