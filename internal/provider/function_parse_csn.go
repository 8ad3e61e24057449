package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

var _ function.Function = &ParseCSNFunction{}

var csnAttrTypes = map[string]attr.Type{
	"timestamp": types.Int64Type,
	"time":      types.StringType,
	"seq":       types.Int64Type,
	"rid":       types.Int64Type,
	"subseq":    types.Int64Type,
}

func NewParseCSNFunction() function.Function {
	return &ParseCSNFunction{}
}

// ParseCSNFunction implements the parse_csn function.
type ParseCSNFunction struct{}

func (f ParseCSNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "parse_csn"
}

func (f ParseCSNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Parse a change sequence number",
		Description: "Splits a 20 hex digit change sequence number (CSN), as found in an RUV, into its timestamp, sequence number, replica ID and sub-sequence number.",
		MarkdownDescription: "Splits a 20 hex digit change sequence number (CSN), as found in `dirsrv_ruv`, into its parts:\n\n" +
			"- `timestamp`: seconds since the Unix epoch\n" +
			"- `time`: the timestamp in RFC 3339 form\n" +
			"- `seq`, `rid` and `subseq`",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:                "csn",
				Description:         "The CSN, e.g. 5f1a2b3c000000010000.",
				MarkdownDescription: "The CSN, e.g. `5f1a2b3c000000010000`.",
			},
		},
		Return: function.ObjectReturn{
			AttributeTypes: csnAttrTypes,
		},
	}
}

func (f ParseCSNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var input string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &input))
	if resp.Error != nil {
		return
	}

	csn, err := ldapclient.ParseCSN(input)
	if err != nil {
		resp.Error = function.NewArgumentFuncError(0, fmt.Sprintf("Invalid CSN: %s", err.Error()))
		return
	}

	result, diags := types.ObjectValue(csnAttrTypes, map[string]attr.Value{
		"timestamp": types.Int64Value(int64(csn.Timestamp)),
		"time":      types.StringValue(csn.Time().UTC().Format(time.RFC3339)),
		"seq":       types.Int64Value(int64(csn.Seq)),
		"rid":       types.Int64Value(int64(csn.RID)),
		"subseq":    types.Int64Value(int64(csn.SubSeq)),
	})
	if diags.HasError() {
		resp.Error = function.FuncErrorFromDiags(ctx, diags)
		return
	}

	resp.Error = resp.Result.Set(ctx, result)
}
