// Package helpers converts between Terraform framework values and the plain
// Go values the directory managers work with.
package helpers

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"
)

// StringOrNull maps "" to a null string.
func StringOrNull(s string) types.String {
	if s == "" {
		return types.StringNull()
	}
	return types.StringValue(s)
}

// StringValueOrDefault returns the string held by v, or def when v is null or unknown.
func StringValueOrDefault(v types.String, def string) string {
	if v.IsNull() || v.IsUnknown() {
		return def
	}
	return v.ValueString()
}

// Int64ValueOrDefault returns the integer held by v, or def when v is null or unknown.
func Int64ValueOrDefault(v types.Int64, def int64) int64 {
	if v.IsNull() || v.IsUnknown() {
		return def
	}
	return v.ValueInt64()
}

// StringList converts a list or set of strings to a slice. Null and unknown yield nil.
func StringList(ctx context.Context, v interface {
	IsNull() bool
	IsUnknown() bool
	ElementsAs(context.Context, any, bool) diag.Diagnostics
}, diags *diag.Diagnostics) []string {
	if v.IsNull() || v.IsUnknown() {
		return nil
	}
	var out []string
	diags.Append(v.ElementsAs(ctx, &out, false)...)
	return out
}

// ListOrNull builds a list of strings, null when values is empty.
func ListOrNull(values []string) types.List {
	if len(values) == 0 {
		return types.ListNull(types.StringType)
	}
	elems := make([]attr.Value, len(values))
	for i, v := range values {
		elems[i] = types.StringValue(v)
	}
	return types.ListValueMust(types.StringType, elems)
}

// SetOrNull builds a set of strings, null when values is empty.
func SetOrNull(values []string) types.Set {
	if len(values) == 0 {
		return types.SetNull(types.StringType)
	}
	elems := make([]attr.Value, len(values))
	for i, v := range values {
		elems[i] = types.StringValue(v)
	}
	return types.SetValueMust(types.StringType, elems)
}

// AttributeMapType is the Terraform type of a map(list(string)) of LDAP attributes.
var AttributeMapType = types.MapType{ElemType: types.ListType{ElemType: types.StringType}}

// AttributeMap converts a map(list(string)) value to LDAP attributes.
func AttributeMap(ctx context.Context, v types.Map, diags *diag.Diagnostics) map[string][]string {
	if v.IsNull() || v.IsUnknown() {
		return nil
	}
	out := make(map[string][]string, len(v.Elements()))
	diags.Append(v.ElementsAs(ctx, &out, false)...)
	return out
}

// AttributeMapValue converts LDAP attributes to a map(list(string)) value, null when empty.
func AttributeMapValue(attrs map[string][]string) types.Map {
	if len(attrs) == 0 {
		return types.MapNull(AttributeMapType.ElemType)
	}
	elems := make(map[string]attr.Value, len(attrs))
	for k, vs := range attrs {
		values := make([]attr.Value, len(vs))
		for i, v := range vs {
			values[i] = types.StringValue(v)
		}
		elems[k] = types.ListValueMust(types.StringType, values)
	}
	return types.MapValueMust(AttributeMapType.ElemType, elems)
}
