package planmodifiers

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// agreementNameFromConsumer implements the plan modifier.
type agreementNameFromConsumer struct{}

// AgreementNameFromConsumer returns a plan modifier that, when name is not
// configured, plans the name the server will give the agreement:
// meTo_<consumer_host>:<port>, where port is consumer_ssl_port if set and
// consumer_port otherwise.
func AgreementNameFromConsumer() planmodifier.String {
	return agreementNameFromConsumer{}
}

func (m agreementNameFromConsumer) Description(_ context.Context) string {
	return "uses meTo_<consumer_host>:<port> if name is not explicitly configured"
}

func (m agreementNameFromConsumer) MarkdownDescription(_ context.Context) string {
	return "uses `meTo_<consumer_host>:<port>` if `name` is not explicitly configured"
}

func (m agreementNameFromConsumer) PlanModifyString(ctx context.Context, req planmodifier.StringRequest, resp *planmodifier.StringResponse) {
	if !req.ConfigValue.IsNull() {
		return
	}

	// Keep the name of an existing agreement.
	if !req.StateValue.IsNull() && !req.StateValue.IsUnknown() {
		resp.PlanValue = req.StateValue
		return
	}

	var host types.String
	var port, sslPort types.Int64
	resp.Diagnostics.Append(req.Plan.GetAttribute(ctx, path.Root("consumer_host"), &host)...)
	resp.Diagnostics.Append(req.Plan.GetAttribute(ctx, path.Root("consumer_port"), &port)...)
	resp.Diagnostics.Append(req.Plan.GetAttribute(ctx, path.Root("consumer_ssl_port"), &sslPort)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if host.IsUnknown() || host.IsNull() || port.IsUnknown() || sslPort.IsUnknown() {
		return
	}

	p := int(port.ValueInt64())
	if port.IsNull() {
		p = 389
	}
	if !sslPort.IsNull() && sslPort.ValueInt64() > 0 {
		p = int(sslPort.ValueInt64())
	}

	resp.PlanValue = types.StringValue(ldapclient.AgreementName("", host.ValueString(), p))
}
