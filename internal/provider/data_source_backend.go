package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework-validators/datasourcevalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/helpers"
	customtypes "github.com/isometry/terraform-provider-dirsrv/internal/provider/types"
	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

var _ datasource.DataSource = &BackendDataSource{}
var _ datasource.DataSourceWithConfigValidators = &BackendDataSource{}

func NewBackendDataSource() datasource.DataSource {
	return &BackendDataSource{}
}

// BackendDataSource looks up a database backend by name or suffix.
type BackendDataSource struct {
	backends *ldapclient.BackendManager
}

type BackendDataSourceModel struct {
	ID       types.String              `tfsdk:"id"`
	Name     types.String              `tfsdk:"name"`
	Suffix   customtypes.DNStringValue `tfsdk:"suffix"`
	DN       types.String              `tfsdk:"dn"`
	ReadOnly types.Bool                `tfsdk:"read_only"`
	Chaining types.Bool                `tfsdk:"chaining"`
	FarmURLs types.List                `tfsdk:"farm_urls"`
	BindDN   types.String              `tfsdk:"bind_dn"`
}

func (d *BackendDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_backend"
}

func (d *BackendDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Looks up an ldbm or chaining backend by `name` or by `suffix`. Exactly one must be given.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The backend name.",
				Computed:            true,
			},
			"name": schema.StringAttribute{
				MarkdownDescription: "Name of the backend, e.g. `userroot`.",
				Optional:            true,
				Computed:            true,
				Validators: []validator.String{
					stringvalidator.RegexMatches(backendNameRegex, "must contain only letters, digits, '-' and '_'"),
				},
			},
			"suffix": schema.StringAttribute{
				MarkdownDescription: "Suffix held by the backend.",
				Optional:            true,
				Computed:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidSuffix(),
				},
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "DN of the backend instance entry.",
				Computed:            true,
			},
			"read_only": schema.BoolAttribute{
				MarkdownDescription: "Whether the backend rejects writes.",
				Computed:            true,
			},
			"chaining": schema.BoolAttribute{
				MarkdownDescription: "Whether the backend chains operations to remote servers.",
				Computed:            true,
			},
			"farm_urls": schema.ListAttribute{
				MarkdownDescription: "Remote server URLs of a chaining backend.",
				ElementType:         types.StringType,
				Computed:            true,
			},
			"bind_dn": schema.StringAttribute{
				MarkdownDescription: "DN a chaining backend binds to the remote servers as.",
				Computed:            true,
			},
		},
	}
}

func (d *BackendDataSource) ConfigValidators(ctx context.Context) []datasource.ConfigValidator {
	return []datasource.ConfigValidator{
		datasourcevalidator.ExactlyOneOf(
			path.MatchRoot("name"),
			path.MatchRoot("suffix"),
		),
	}
}

func (d *BackendDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	providerData := providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
	if providerData == nil {
		return
	}

	d.backends = providerData.Backends
}

func (d *BackendDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data BackendDataSourceModel

	ctx = initializeLogging(ctx)

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	name := helpers.StringValueOrDefault(data.Name, "")
	suffix := helpers.StringValueOrDefault(data.Suffix.StringValue, "")
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "dirsrv_backend", "read", map[string]any{
		"name":   name,
		"suffix": suffix,
	})
	defer func() {
		logCompletion(firstError(resp.Diagnostics))
	}()

	backends, err := d.backends.List(ctx, name, suffix, nil)
	if err != nil && !ldapclient.IsNotFoundError(err) {
		resp.Diagnostics.AddError(
			"Error Reading Backend",
			fmt.Sprintf("Could not look up backend: %s", err.Error()),
		)
		return
	}
	if len(backends) == 0 {
		resp.Diagnostics.AddError(
			"Backend Not Found",
			fmt.Sprintf("No backend matches name %q or suffix %q.", name, suffix),
		)
		return
	}

	b := backends[0]
	data.ID = types.StringValue(b.Name)
	data.Name = types.StringValue(b.Name)
	data.Suffix = data.Suffix.Reconcile(b.Suffix)
	data.DN = types.StringValue(b.DN)
	data.ReadOnly = types.BoolValue(b.ReadOnly)
	data.Chaining = types.BoolValue(b.Chaining)
	data.FarmURLs = stringListValue(b.FarmURLs)
	data.BindDN = helpers.StringOrNull(b.BindDN)

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
