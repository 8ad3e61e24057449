package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

var _ datasource.DataSource = &AgreementStatusDataSource{}

func NewAgreementStatusDataSource() datasource.DataSource {
	return &AgreementStatusDataSource{}
}

// AgreementStatusDataSource reads the monitoring attributes of a replication agreement.
type AgreementStatusDataSource struct {
	agreements *ldapclient.AgreementManager
}

type AgreementStatusDataSourceModel struct {
	ID               types.String `tfsdk:"id"`
	DN               types.String `tfsdk:"dn"`
	Name             types.String `tfsdk:"name"`
	ReplicaHost      types.String `tfsdk:"replica_host"`
	ReplicaPort      types.String `tfsdk:"replica_port"`
	UpdateInProgress types.Bool   `tfsdk:"update_in_progress"`
	LastUpdateStart  types.String `tfsdk:"last_update_start"`
	LastUpdateEnd    types.String `tfsdk:"last_update_end"`
	LastUpdateStatus types.String `tfsdk:"last_update_status"`
	ChangesSent      types.Int64  `tfsdk:"changes_sent"`
	InitInProgress   types.Bool   `tfsdk:"init_in_progress"`
	LastInitStart    types.String `tfsdk:"last_init_start"`
	LastInitEnd      types.String `tfsdk:"last_init_end"`
	LastInitStatus   types.String `tfsdk:"last_init_status"`
	InitState        types.String `tfsdk:"init_state"`
	ReapActive       types.String `tfsdk:"reap_active"`
	Report           types.String `tfsdk:"report"`
}

func (d *AgreementStatusDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_replication_agreement_status"
}

func (d *AgreementStatusDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	computed := func(desc string) schema.StringAttribute {
		return schema.StringAttribute{MarkdownDescription: desc, Computed: true}
	}

	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads the status of a replication agreement: incremental update progress and the " +
			"outcome of the last total update (initialization).",

		Attributes: map[string]schema.Attribute{
			"id": computed("The agreement DN."),
			"dn": schema.StringAttribute{
				MarkdownDescription: "DN of the agreement, e.g. `dirsrv_replication_agreement.example.dn`.",
				Required:            true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"name":               computed("The agreement's `cn`."),
			"replica_host":       computed("The consumer host."),
			"replica_port":       computed("The consumer port."),
			"update_in_progress": schema.BoolAttribute{MarkdownDescription: "Whether an incremental update is running.", Computed: true},
			"last_update_start":  computed("Start of the last incremental update, as a generalized time."),
			"last_update_end":    computed("End of the last incremental update, as a generalized time."),
			"last_update_status": computed("Outcome of the last incremental update."),
			"changes_sent": schema.Int64Attribute{
				MarkdownDescription: "Changes sent since the server started, summed over all replica IDs.",
				Computed:            true,
			},
			"init_in_progress": schema.BoolAttribute{MarkdownDescription: "Whether a total update is running.", Computed: true},
			"last_init_start":  computed("Start of the last total update."),
			"last_init_end":    computed("End of the last total update."),
			"last_init_status": computed("Raw `nsds5ReplicaLastInitStatus`."),
			"init_state":       computed("Classified total update state: `in_progress`, `succeeded`, `failed_busy`, `failed` or `unknown`."),
			"reap_active":      computed("Whether tombstone reaping is active."),
			"report":           computed("Human readable status report."),
		},
	}
}

func (d *AgreementStatusDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	d.agreements = providerData.Agreements
}

func (d *AgreementStatusDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data AgreementStatusDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.DN.ValueString()
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirsrv_replication_agreement_status", "read", map[string]any{"dn": dn})
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	status, err := d.agreements.Status(ctx, dn)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Reading Agreement Status",
			fmt.Sprintf("Could not read status of %s: %s", dn, err.Error()),
		)
		return
	}

	// An unparsable counter is not fatal.
	changes, err := ldapclient.ParseChangesSent(status.ChangesSent)
	if err != nil {
		resp.Diagnostics.AddWarning("Unparsable Changes Sent Counter", err.Error())
		data.ChangesSent = types.Int64Null()
	} else {
		data.ChangesSent = types.Int64Value(int64(changes))
	}

	mapAgreementStatusToModel(status, &data)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func mapAgreementStatusToModel(status *ldapclient.AgreementStatus, data *AgreementStatusDataSourceModel) {
	data.ID = types.StringValue(status.DN)
	data.Name = types.StringValue(status.CN)
	data.ReplicaHost = helpers.StringOrNull(status.ReplicaHost)
	data.ReplicaPort = helpers.StringOrNull(status.ReplicaPort)
	data.UpdateInProgress = types.BoolValue(strings.EqualFold(status.UpdateInProgress, "true"))
	data.LastUpdateStart = helpers.StringOrNull(status.LastUpdateStart)
	data.LastUpdateEnd = helpers.StringOrNull(status.LastUpdateEnd)
	data.LastUpdateStatus = helpers.StringOrNull(status.LastUpdateStatus)
	data.InitInProgress = types.BoolValue(status.BeginReplicaRefresh != "")
	data.LastInitStart = helpers.StringOrNull(status.LastInitStart)
	data.LastInitEnd = helpers.StringOrNull(status.LastInitEnd)
	data.LastInitStatus = helpers.StringOrNull(status.LastInitStatus)
	data.ReapActive = helpers.StringOrNull(status.ReapActive)
	data.Report = types.StringValue(status.String())

	// An agreement that was never initialized has no status to classify.
	if status.LastInitStatus == "" && status.BeginReplicaRefresh == "" {
		data.InitState = types.StringNull()
	} else {
		state := ldapclient.ClassifyInitStatus(status.BeginReplicaRefresh, status.UpdateInProgress, status.LastInitStatus)
		data.InitState = types.StringValue(state.String())
	}
}
