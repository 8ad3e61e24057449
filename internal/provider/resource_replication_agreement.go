package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/booldefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/boolplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/int64default"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/int64planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringdefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/planmodifiers"
	customtypes "github.com/isometry/terraform-provider-dirsrv/internal/provider/types"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ resource.Resource = &ReplicationAgreementResource{}
var _ resource.ResourceWithImportState = &ReplicationAgreementResource{}

func NewReplicationAgreementResource() resource.Resource {
	return &ReplicationAgreementResource{}
}

// ReplicationAgreementResource manages a supplier-to-consumer replication agreement.
type ReplicationAgreementResource struct {
	agreements *ldapclient.AgreementManager
}

// ReplicationAgreementResourceModel describes the resource data model.
type ReplicationAgreementResourceModel struct {
	ID              types.String              `tfsdk:"id"`   // agreement DN
	Name            types.String              `tfsdk:"name"` // cn, derived from the consumer when unset
	Suffix          customtypes.DNStringValue `tfsdk:"suffix"`
	ConsumerHost    types.String              `tfsdk:"consumer_host"`
	ConsumerPort    types.Int64               `tfsdk:"consumer_port"`
	ConsumerSSLPort types.Int64               `tfsdk:"consumer_ssl_port"`
	StartTLS        types.Bool                `tfsdk:"start_tls"`
	BindDN          customtypes.DNStringValue `tfsdk:"bind_dn"`
	BindPassword    types.String              `tfsdk:"bind_password"`
	BindMethod      types.String              `tfsdk:"bind_method"`
	Timeout         types.Int64               `tfsdk:"timeout"`
	Schedule        types.String              `tfsdk:"schedule"`
	Enabled         types.Bool                `tfsdk:"enabled"`
	Fractional      types.List                `tfsdk:"fractional"`
	StripAttrs      types.List                `tfsdk:"strip_attrs"`
	Initialize      types.Bool                `tfsdk:"initialize"`
	InitTimeout     types.String              `tfsdk:"init_timeout"`
	InitMaxAttempts types.Int64               `tfsdk:"init_max_attempts"`
	// Computed attributes
	DN             customtypes.DNStringValue `tfsdk:"dn"`
	Description    types.String              `tfsdk:"description"`
	Transport      types.String              `tfsdk:"transport"`
	LastInitStatus types.String              `tfsdk:"last_init_status"`
}

func (r *ReplicationAgreementResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_replication_agreement"
}

func (r *ReplicationAgreementResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages a replication agreement from this supplier to a consumer. " +
			"The agreement is created below the replica entry of `suffix`, which must already exist " +
			"(see `dirsrv_replica`). Set `initialize` to run a total update of the consumer when the agreement is created.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the agreement entry.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"name": schema.StringAttribute{
				MarkdownDescription: "The `cn` of the agreement. Defaults to `meTo_<consumer_host>:<port>`, where port is `consumer_ssl_port` when set.",
				Optional:            true,
				Computed:            true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
				PlanModifiers: []planmodifier.String{
					planmodifiers.AgreementNameFromConsumer(),
					stringplanmodifier.RequiresReplace(),
				},
			},
			"suffix": schema.StringAttribute{
				MarkdownDescription: "The replicated suffix, e.g. `dc=example,dc=com`.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
				PlanModifiers: replaceOnChange,
			},
			"consumer_host": schema.StringAttribute{
				MarkdownDescription: "Host name of the consumer.",
				Required:            true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
				PlanModifiers: replaceOnChange,
			},
			"consumer_port": schema.Int64Attribute{
				MarkdownDescription: "LDAP port of the consumer. Also used with `start_tls`. Defaults to `389`.",
				Optional:            true,
				Computed:            true,
				Default:             int64default.StaticInt64(389),
				Validators: []validator.Int64{
					int64validator.Between(1, 65535),
				},
				PlanModifiers: []planmodifier.Int64{
					int64planmodifier.RequiresReplace(),
				},
			},
			"consumer_ssl_port": schema.Int64Attribute{
				MarkdownDescription: "LDAPS port of the consumer. When set, the agreement uses the `SSL` transport.",
				Optional:            true,
				Validators: []validator.Int64{
					int64validator.Between(1, 65535),
					int64validator.ConflictsWith(path.MatchRoot("start_tls")),
				},
				PlanModifiers: []planmodifier.Int64{
					int64planmodifier.RequiresReplace(),
				},
			},
			"start_tls": schema.BoolAttribute{
				MarkdownDescription: "Use StartTLS on `consumer_port` (the `TLS` transport). Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
				PlanModifiers: []planmodifier.Bool{
					boolplanmodifier.RequiresReplace(),
				},
			},
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN the supplier binds to the consumer as, usually `cn=replication manager,cn=config`.",
				Required:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"bind_password": schema.StringAttribute{
				MarkdownDescription: "Password of `bind_dn`. The server does not return it, so drift is not detected.",
				Required:            true,
				Sensitive:           true,
			},
			"bind_method": schema.StringAttribute{
				MarkdownDescription: "Bind method: `SIMPLE`, `SSLCLIENTAUTH`, `SASL/GSSAPI` or `SASL/DIGEST-MD5`. Defaults to `SIMPLE`.",
				Optional:            true,
				Computed:            true,
				Default:             stringdefault.StaticString("SIMPLE"),
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf("SIMPLE", "SSLCLIENTAUTH", "SASL/GSSAPI", "SASL/DIGEST-MD5"),
				},
				PlanModifiers: replaceOnChange,
			},
			"timeout": schema.Int64Attribute{
				MarkdownDescription: "Seconds the supplier waits for the consumer before giving up on a connection. Defaults to `120`.",
				Optional:            true,
				Computed:            true,
				Default:             int64default.StaticInt64(120),
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"schedule": schema.StringAttribute{
				MarkdownDescription: "Replication window as `HHMM-HHMM DAYS`, e.g. `0000-2359 0123456`. Unset replicates continuously.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidSchedule(),
				},
			},
			"enabled": schema.BoolAttribute{
				MarkdownDescription: "Whether replication runs. Disabling sets a schedule that never fires; enabling restores `schedule`. Defaults to `true`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(true),
			},
			"fractional": schema.ListAttribute{
				MarkdownDescription: "Values of `nsDS5ReplicatedAttributeList`, e.g. `(objectclass=*) $ EXCLUDE memberOf`.",
				Optional:            true,
				ElementType:         types.StringType,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
				},
			},
			"strip_attrs": schema.ListAttribute{
				MarkdownDescription: "Attributes stripped from replicated modifications that would otherwise be empty after fractional filtering.",
				Optional:            true,
				ElementType:         types.StringType,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
				},
			},
			"initialize": schema.BoolAttribute{
				MarkdownDescription: "Run a total update of the consumer after the agreement is created and wait for it to finish. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},
			"init_timeout": schema.StringAttribute{
				MarkdownDescription: "Maximum time to wait for each initialization attempt, e.g. `15m`. Unset waits until the Terraform operation is cancelled.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidDuration(),
				},
			},
			"init_max_attempts": schema.Int64Attribute{
				MarkdownDescription: "How many times to start the total update while the consumer reports `replica busy`. Defaults to `5`.",
				Optional:            true,
				Computed:            true,
				Default:             int64default.StaticInt64(5),
				Validators: []validator.Int64{
					int64validator.Between(1, 50),
				},
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "The distinguished name of the agreement entry.",
				Computed:            true,
				CustomType:          customtypes.DNStringType{},
				PlanModifiers: keepState,
			},
			"description": schema.StringAttribute{
				MarkdownDescription: "Description written when the agreement was created.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"transport": schema.StringAttribute{
				MarkdownDescription: "Transport in use: `LDAP`, `SSL` or `TLS`.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"last_init_status": schema.StringAttribute{
				MarkdownDescription: "The consumer's last initialization status as reported by the supplier.",
				Computed:            true,
			},
		},
	}
}

func (r *ReplicationAgreementResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Resource", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	r.agreements = providerData.Agreements
}

func (r *ReplicationAgreementResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data ReplicationAgreementResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_agreement", "create", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Creating replication agreement", map[string]any{
		"suffix":   data.Suffix.ValueString(),
		"consumer": data.ConsumerHost.ValueString(),
	})

	createReq := &ldapclient.AgreementRequest{
		Suffix:          data.Suffix.ValueString(),
		ConsumerHost:    data.ConsumerHost.ValueString(),
		ConsumerPort:    int(data.ConsumerPort.ValueInt64()),
		ConsumerSSLPort: int(helpers.Int64ValueOrDefault(data.ConsumerSSLPort, 0)),
		BindDN:          data.BindDN.ValueString(),
		BindPassword:    data.BindPassword.ValueString(),
		BindMethod:      data.BindMethod.ValueString(),
		Timeout:         int(data.Timeout.ValueInt64()),
		StartTLS:        data.StartTLS.ValueBool(),
		Schedule:        helpers.StringValueOrDefault(data.Schedule, ""),
		Fractional:      helpers.StringList(ctx, data.Fractional, &resp.Diagnostics),
		StripAttrs:      helpers.StringList(ctx, data.StripAttrs, &resp.Diagnostics),
	}
	if name := helpers.StringValueOrDefault(data.Name, ""); name != "" {
		createReq.CNFormat = name
	}
	if resp.Diagnostics.HasError() {
		return
	}

	agmt, err := r.agreements.Add(ctx, createReq)
	if err != nil {
		summary := "Error Creating Replication Agreement"
		if errors.Is(err, ldapclient.ErrNoReplica) {
			summary = "Suffix Is Not Replicated"
		}
		resp.Diagnostics.AddError(summary, "Could not create replication agreement, unexpected error: "+err.Error())
		return
	}

	tflog.Debug(ctx, "Created replication agreement", map[string]any{
		"dn":        agmt.DN,
		"transport": agmt.Transport,
	})

	if !data.Enabled.ValueBool() {
		if err := r.agreements.Stop(ctx, agmt.DN); err != nil {
			resp.Diagnostics.AddError(
				"Error Disabling Replication Agreement",
				fmt.Sprintf("Agreement %s was created but could not be disabled: %s", agmt.DN, err.Error()),
			)
		} else {
			agmt.Schedule = ldapclient.ScheduleStop
		}
	}

	r.updateModelFromAgreement(&data, agmt)
	data.LastInitStatus = types.StringNull()

	// Saved before initializing: a failed init taints the agreement instead of orphaning it.
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if data.Initialize.ValueBool() {
		r.initialize(ctx, &data, &resp.Diagnostics)
	}

	r.refreshInitStatus(ctx, &data, &resp.Diagnostics)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// initialize runs a total update of the consumer and waits for it.
func (r *ReplicationAgreementResource) initialize(ctx context.Context, data *ReplicationAgreementResourceModel, diags *diag.Diagnostics) {
	opts, err := initWaitOptions(data)
	if err != nil {
		diags.AddAttributeError(path.Root("init_timeout"), "Invalid Initialization Timeout", err.Error())
		return
	}

	dn := data.ID.ValueString()
	start := time.Now()
	tflog.Info(ctx, "Initializing consumer", map[string]any{
		"dn":           dn,
		"max_attempts": opts.MaxAttempts,
		"timeout":      opts.Timeout.String(),
	})

	status, err := r.agreements.StartAndWait(ctx, dn, opts)
	if status != nil {
		data.LastInitStatus = helpers.StringOrNull(status.Raw)
	}
	if err != nil {
		diags.AddError(initErrorSummary(err), fmt.Sprintf("Initialization of the consumer of %s did not succeed: %s", dn, err.Error()))
		return
	}

	tflog.Info(ctx, "Consumer initialized", map[string]any{
		"dn":          dn,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// initErrorSummary picks a diagnostic summary for a StartAndWait failure.
func initErrorSummary(err error) string {
	switch {
	case errors.Is(err, ldapclient.ErrReplicaBusy):
		return "Consumer Replica Busy"
	case errors.Is(err, ldapclient.ErrInitFailed):
		return "Replica Initialization Failed"
	case errors.Is(err, ldapclient.ErrUnrecognizedInitStatus):
		return "Unrecognized Replica Initialization Status"
	case errors.Is(err, context.DeadlineExceeded):
		return "Replica Initialization Timed Out"
	default:
		return "Error Initializing Replica"
	}
}

// initWaitOptions builds the poller options from the init_* attributes.
func initWaitOptions(data *ReplicationAgreementResourceModel) (*ldapclient.InitWaitOptions, error) {
	opts := ldapclient.DefaultInitWaitOptions()
	opts.MaxAttempts = int(helpers.Int64ValueOrDefault(data.InitMaxAttempts, int64(opts.MaxAttempts)))

	if timeout := helpers.StringValueOrDefault(data.InitTimeout, ""); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid init_timeout %q: %w", timeout, err)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// refreshInitStatus reads nsds5ReplicaLastInitStatus into the model.
func (r *ReplicationAgreementResource) refreshInitStatus(ctx context.Context, data *ReplicationAgreementResourceModel, diags *diag.Diagnostics) {
	status, err := r.agreements.Status(ctx, data.ID.ValueString())
	if err != nil {
		diags.AddWarning(
			"Could Not Read Agreement Status",
			fmt.Sprintf("Reading the status of %s failed: %s", data.ID.ValueString(), err.Error()),
		)
		return
	}
	data.LastInitStatus = helpers.StringOrNull(status.LastInitStatus)
}

func (r *ReplicationAgreementResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data ReplicationAgreementResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_agreement", "read", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Reading replication agreement", map[string]any{
		"dn": data.ID.ValueString(),
	})

	agmt, err := r.agreements.Get(ctx, data.ID.ValueString())
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			tflog.Debug(ctx, "Replication agreement no longer exists", map[string]any{"dn": data.ID.ValueString()})
			resp.State.RemoveResource(ctx)
			return
		}
		resp.Diagnostics.AddError(
			"Error Reading Replication Agreement",
			fmt.Sprintf("Could not read replication agreement %s: %s", data.ID.ValueString(), err.Error()),
		)
		return
	}

	r.updateModelFromAgreement(&data, agmt)
	r.refreshInitStatus(ctx, &data, &resp.Diagnostics)

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ReplicationAgreementResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var data, state ReplicationAgreementResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_agreement", "update", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := state.ID.ValueString()
	tflog.Debug(ctx, "Updating replication agreement", map[string]any{"dn": dn})

	upd := &ldapclient.AgreementUpdate{}
	hasChanges := false

	if !data.BindDN.Equal(state.BindDN) {
		bindDN := data.BindDN.ValueString()
		upd.BindDN = &bindDN
		hasChanges = true
	}
	if !data.BindPassword.Equal(state.BindPassword) {
		password := data.BindPassword.ValueString()
		upd.BindPassword = &password
		hasChanges = true
	}
	if !data.Timeout.Equal(state.Timeout) {
		timeout := int(data.Timeout.ValueInt64())
		upd.Timeout = &timeout
		hasChanges = true
	}
	if !data.Fractional.Equal(state.Fractional) {
		upd.Fractional = emptyIfNil(helpers.StringList(ctx, data.Fractional, &resp.Diagnostics))
		hasChanges = true
	}
	if !data.StripAttrs.Equal(state.StripAttrs) {
		upd.StripAttrs = emptyIfNil(helpers.StringList(ctx, data.StripAttrs, &resp.Diagnostics))
		hasChanges = true
	}
	if resp.Diagnostics.HasError() {
		return
	}

	if hasChanges {
		if _, err := r.agreements.Update(ctx, dn, upd); err != nil {
			resp.Diagnostics.AddError(
				"Error Updating Replication Agreement",
				"Could not update replication agreement, unexpected error: "+err.Error(),
			)
			return
		}
	}

	schedule := helpers.StringValueOrDefault(data.Schedule, ldapclient.ScheduleAlways)
	switch {
	case !data.Enabled.ValueBool() && state.Enabled.ValueBool():
		if err := r.agreements.Stop(ctx, dn); err != nil {
			resp.Diagnostics.AddError("Error Disabling Replication Agreement", err.Error())
			return
		}
	case data.Enabled.ValueBool() && (!state.Enabled.ValueBool() || !data.Schedule.Equal(state.Schedule)):
		if err := r.agreements.Restart(ctx, dn, schedule); err != nil {
			resp.Diagnostics.AddError("Error Restarting Replication Agreement", err.Error())
			return
		}
	}

	agmt, err := r.agreements.Get(ctx, dn)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Reading Replication Agreement",
			fmt.Sprintf("Could not read replication agreement %s after update: %s", dn, err.Error()),
		)
		return
	}

	r.updateModelFromAgreement(&data, agmt)
	r.refreshInitStatus(ctx, &data, &resp.Diagnostics)

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// emptyIfNil turns a removed list into the empty slice AgreementUpdate
// reads as "delete the attribute".
func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (r *ReplicationAgreementResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data ReplicationAgreementResourceModel

	ctx, done := trackResource(ctx, "dirsrv_replication_agreement", "delete", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Debug(ctx, "Deleting replication agreement", map[string]any{"dn": data.ID.ValueString()})

	if err := r.agreements.Delete(ctx, data.ID.ValueString()); err != nil {
		if ldapclient.IsNotFoundError(err) {
			return
		}
		resp.Diagnostics.AddError(
			"Error Deleting Replication Agreement",
			"Could not delete replication agreement, unexpected error: "+err.Error(),
		)
		return
	}

	tflog.Debug(ctx, "Deleted replication agreement", map[string]any{"dn": data.ID.ValueString()})
}

func (r *ReplicationAgreementResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	dn := strings.TrimSpace(req.ID)

	tflog.Debug(ctx, "Importing replication agreement", map[string]any{"import_id": dn})

	if !ldapclient.IsDN(dn) {
		resp.Diagnostics.AddError(
			"Invalid Import ID",
			fmt.Sprintf("Expected the DN of a replication agreement, got %q.", dn),
		)
		return
	}

	agmt, err := r.agreements.Get(ctx, dn)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Importing Replication Agreement",
			fmt.Sprintf("Could not import replication agreement %s: %s", dn, err.Error()),
		)
		return
	}

	data := ReplicationAgreementResourceModel{
		BindPassword:    types.StringNull(),
		BindMethod:      types.StringNull(),
		Schedule:        types.StringNull(),
		Initialize:      types.BoolValue(false),
		InitTimeout:     types.StringNull(),
		InitMaxAttempts: types.Int64Value(5),
		Fractional:      types.ListNull(types.StringType),
		StripAttrs:      types.ListNull(types.StringType),
	}
	r.updateModelFromAgreement(&data, agmt)
	r.refreshInitStatus(ctx, &data, &resp.Diagnostics)

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// updateModelFromAgreement copies server state into the model. Write-only
// and plan-only attributes are left as they are.
func (r *ReplicationAgreementResource) updateModelFromAgreement(model *ReplicationAgreementResourceModel, agmt *ldapclient.Agreement) {
	model.ID = types.StringValue(agmt.DN)
	model.DN = customtypes.DNString(agmt.DN)
	model.Name = types.StringValue(agmt.CN)
	model.Description = helpers.StringOrNull(agmt.Description)
	model.ConsumerHost = types.StringValue(agmt.ConsumerHost)
	model.Transport = types.StringValue(agmt.Transport)
	model.Timeout = types.Int64Value(int64(agmt.Timeout))
	model.BindDN = customtypes.DNString(agmt.BindDN)

	model.Suffix = model.Suffix.Reconcile(agmt.Suffix)

	if model.BindMethod.IsNull() || !strings.EqualFold(model.BindMethod.ValueString(), agmt.BindMethod) {
		model.BindMethod = types.StringValue(strings.ToUpper(agmt.BindMethod))
	}

	switch agmt.Transport {
	case ldapclient.TransportSSL:
		model.ConsumerSSLPort = types.Int64Value(int64(agmt.ConsumerPort))
		model.StartTLS = types.BoolValue(false)
		if model.ConsumerPort.IsNull() || model.ConsumerPort.IsUnknown() {
			model.ConsumerPort = types.Int64Value(389)
		}
	default:
		model.ConsumerPort = types.Int64Value(int64(agmt.ConsumerPort))
		model.ConsumerSSLPort = types.Int64Null()
		model.StartTLS = types.BoolValue(agmt.Transport == ldapclient.TransportTLS)
	}

	if agmt.Schedule == ldapclient.ScheduleStop {
		// Disabled: the configured schedule is restored on enable.
		model.Enabled = types.BoolValue(false)
	} else {
		model.Enabled = types.BoolValue(true)
		if agmt.Schedule != "" || model.Schedule.IsNull() || model.Schedule.ValueString() != "" {
			model.Schedule = helpers.StringOrNull(agmt.Schedule)
		}
	}

	model.Fractional = helpers.ListOrNull(agmt.Fractional)
	model.StripAttrs = helpers.ListOrNull(agmt.StripAttrs)
}
