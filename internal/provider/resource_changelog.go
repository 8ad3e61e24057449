package provider

import (
	"context"
	"path/filepath"

	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringdefault"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
)

var _ resource.Resource = &ChangelogResource{}
var _ resource.ResourceWithImportState = &ChangelogResource{}

func NewChangelogResource() resource.Resource {
	return &ChangelogResource{}
}

// ChangelogResource manages the server-wide replication changelog (cn=changelog5,cn=config).
type ChangelogResource struct {
	replicas *ldapclient.ReplicaManager
}

type ChangelogResourceModel struct {
	ID    types.String `tfsdk:"id"`
	DBDir types.String `tfsdk:"db_dir"`
	Name  types.String `tfsdk:"name"`
	Dir   types.String `tfsdk:"dir"`
}

func (r *ChangelogResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_changelog"
}

func (r *ChangelogResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages the replication changelog that suppliers and hubs record changes in. " +
			"A server has at most one; an existing changelog is adopted as is.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The changelog entry DN, `" + ldapclient.DNChangelog + "`.",
				Computed:            true,
				PlanModifiers: keepState,
			},
			"db_dir": schema.StringAttribute{
				MarkdownDescription: "Server database directory a relative `name` is placed in, e.g. `/var/lib/dirsrv/slapd-ds1/db`.",
				Optional:            true,
				PlanModifiers: replaceOnChange,
			},
			"name": schema.StringAttribute{
				MarkdownDescription: "Changelog directory name, or an absolute path. Defaults to `" + ldapclient.DefaultChangelogName + "`.",
				Optional:            true,
				Computed:            true,
				Default:             stringdefault.StaticString(ldapclient.DefaultChangelogName),
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
				PlanModifiers: replaceOnChange,
			},
			"dir": schema.StringAttribute{
				MarkdownDescription: "The changelog directory (`nsslapd-changelogdir`) in use.",
				Computed:            true,
				PlanModifiers: keepState,
			},
		},
	}
}

func (r *ChangelogResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Resource", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	r.replicas = providerData.Replicas
}

func (r *ChangelogResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data ChangelogResourceModel

	ctx, done := trackResource(ctx, "dirsrv_changelog", "create", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dbdir := helpers.StringValueOrDefault(data.DBDir, "")
	name := data.Name.ValueString()
	if dbdir == "" && !filepath.IsAbs(name) {
		resp.Diagnostics.AddAttributeError(path.Root("db_dir"), "Missing Database Directory",
			"db_dir is required unless name is an absolute path.")
		return
	}

	tflog.Debug(ctx, "Creating changelog", map[string]any{"db_dir": dbdir, "name": name})

	cl, err := r.replicas.Changelog(ctx, dbdir, name)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Creating Changelog",
			"Could not create replication changelog, unexpected error: "+err.Error(),
		)
		return
	}

	data.ID = types.StringValue(cl.DN)
	data.Dir = types.StringValue(cl.Dir)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ChangelogResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data ChangelogResourceModel

	ctx, done := trackResource(ctx, "dirsrv_changelog", "read", &resp.Diagnostics)
	defer done()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	cl, err := r.replicas.GetChangelog(ctx)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			resp.State.RemoveResource(ctx)
			return
		}
		resp.Diagnostics.AddError("Error Reading Changelog", err.Error())
		return
	}

	data.ID = types.StringValue(cl.DN)
	data.Dir = types.StringValue(cl.Dir)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// Update is never called with a change: every configurable attribute forces replacement.
func (r *ChangelogResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var data ChangelogResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *ChangelogResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	ctx, done := trackResource(ctx, "dirsrv_changelog", "delete", &resp.Diagnostics)
	defer done()

	tflog.Debug(ctx, "Deleting changelog")

	if err := r.replicas.DeleteChangelog(ctx); err != nil && !ldapclient.IsNotFoundError(err) {
		resp.Diagnostics.AddError(
			"Error Deleting Changelog",
			"Could not delete replication changelog, unexpected error: "+err.Error(),
		)
	}
}

// ImportState ignores the ID: there is only one changelog per server.
func (r *ChangelogResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	cl, err := r.replicas.GetChangelog(ctx)
	if err != nil {
		resp.Diagnostics.AddError("Error Importing Changelog", err.Error())
		return
	}

	data := ChangelogResourceModel{
		ID:    types.StringValue(cl.DN),
		DBDir: types.StringValue(filepath.Dir(cl.Dir)),
		Name:  types.StringValue(filepath.Base(cl.Dir)),
		Dir:   types.StringValue(cl.Dir),
	}
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
