package validators

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

var _ validator.String = dnValidator{}

// reservedSuffixes hold server configuration and cannot carry user data,
// backends or replicas.
var reservedSuffixes = []string{ldapclient.DNConfig, "cn=schema", "cn=monitor"}

// dnValidator checks DN syntax. Quoted RDN values (cn="dc=example,dc=com")
// are accepted as 389-DS writes them in the mapping tree. In suffix mode the
// DN must also name a data suffix rather than a configuration tree.
type dnValidator struct {
	suffix bool
}

func (v dnValidator) Description(_ context.Context) string {
	if v.suffix {
		return "value must be a Distinguished Name (DN) outside cn=config, cn=schema and cn=monitor"
	}
	return "value must be a valid Distinguished Name (DN)"
}

func (v dnValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v dnValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if err := ldapclient.ValidateDNSyntax(value); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid Distinguished Name",
			fmt.Sprintf("The value %q is not a valid Distinguished Name format: %s", value, err.Error()),
		)
		return
	}

	if !v.suffix {
		return
	}
	for _, reserved := range reservedSuffixes {
		below, _ := ldapclient.IsDNChild(value, reserved)
		if below || ldapclient.EqualDN(value, reserved) {
			response.Diagnostics.AddAttributeError(
				request.Path,
				"Invalid Suffix",
				fmt.Sprintf("The value %q lies in the %s configuration tree, which cannot hold a backend or replica.", value, reserved),
			)
			return
		}
	}
}

// IsValidDN returns a validator which ensures that any configured
// attribute value is a valid Distinguished Name (DN).
//
// Unknown values and null values are skipped from validation.
func IsValidDN() validator.String {
	return dnValidator{}
}

// IsValidSuffix is IsValidDN for attributes naming a data suffix.
func IsValidSuffix() validator.String {
	return dnValidator{suffix: true}
}
