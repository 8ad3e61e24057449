package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

var _ function.Function = &NormalizeDNFunction{}

func NewNormalizeDNFunction() function.Function {
	return &NormalizeDNFunction{}
}

// NormalizeDNFunction implements the normalize_dn function.
type NormalizeDNFunction struct{}

func (f NormalizeDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "normalize_dn"
}

func (f NormalizeDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:             "Normalize a distinguished name",
		Description:         "Returns the DN with lower-case attribute types and values and no spaces around separators, the form the server compares DNs in.",
		MarkdownDescription: "Returns the DN with lower-case attribute types and values and no spaces around separators, the form the server compares DNs in. `normalize_dn(\"DC=Example, DC=Com\")` is `dc=example,dc=com`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "dn",
				Description: "The DN to normalize.",
			},
		},
		Return: function.StringReturn{},
	}
}

func (f NormalizeDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var dn string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &dn))
	if resp.Error != nil {
		return
	}

	normalized, err := ldapclient.NormalizeDN(dn)
	if err != nil {
		resp.Error = function.NewArgumentFuncError(0, fmt.Sprintf("Invalid DN %q: %s", dn, err.Error()))
		return
	}

	resp.Error = resp.Result.Set(ctx, normalized)
}
