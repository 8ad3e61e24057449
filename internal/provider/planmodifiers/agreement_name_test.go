package planmodifiers_test

import (
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/tfsdk"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-go/tftypes"

	"github.com/isometry/terraform-provider-dirsrv/internal/provider/planmodifiers"
)

func TestAgreementNameFromConsumer_Description(t *testing.T) {
	modifier := planmodifiers.AgreementNameFromConsumer()

	if got := modifier.Description(t.Context()); got != "uses meTo_<consumer_host>:<port> if name is not explicitly configured" {
		t.Errorf("unexpected description %q", got)
	}
	if got := modifier.MarkdownDescription(t.Context()); got != "uses `meTo_<consumer_host>:<port>` if `name` is not explicitly configured" {
		t.Errorf("unexpected markdown description %q", got)
	}
}

func TestAgreementNameFromConsumer_PlanModifyString(t *testing.T) {
	tests := map[string]struct {
		config   types.String
		state    types.String
		host     tftypes.Value
		port     tftypes.Value
		sslPort  tftypes.Value
		expected types.String
	}{
		"explicit name kept": {
			config:   types.StringValue("to-ds2"),
			state:    types.StringNull(),
			host:     tftypes.NewValue(tftypes.String, "ds2.example.com"),
			port:     tftypes.NewValue(tftypes.Number, 389),
			sslPort:  tftypes.NewValue(tftypes.Number, nil),
			expected: types.StringValue("to-ds2"),
		},
		"derived from consumer port": {
			config:   types.StringNull(),
			state:    types.StringNull(),
			host:     tftypes.NewValue(tftypes.String, "ds2.example.com"),
			port:     tftypes.NewValue(tftypes.Number, 389),
			sslPort:  tftypes.NewValue(tftypes.Number, nil),
			expected: types.StringValue("meTo_ds2.example.com:389"),
		},
		"ssl port wins": {
			config:   types.StringNull(),
			state:    types.StringNull(),
			host:     tftypes.NewValue(tftypes.String, "ds2.example.com"),
			port:     tftypes.NewValue(tftypes.Number, 389),
			sslPort:  tftypes.NewValue(tftypes.Number, 636),
			expected: types.StringValue("meTo_ds2.example.com:636"),
		},
		"default port when unset": {
			config:   types.StringNull(),
			state:    types.StringNull(),
			host:     tftypes.NewValue(tftypes.String, "ds3"),
			port:     tftypes.NewValue(tftypes.Number, nil),
			sslPort:  tftypes.NewValue(tftypes.Number, nil),
			expected: types.StringValue("meTo_ds3:389"),
		},
		"unknown host left unknown": {
			config:   types.StringNull(),
			state:    types.StringNull(),
			host:     tftypes.NewValue(tftypes.String, tftypes.UnknownValue),
			port:     tftypes.NewValue(tftypes.Number, 389),
			sslPort:  tftypes.NewValue(tftypes.Number, nil),
			expected: types.StringUnknown(),
		},
		"existing state kept": {
			config:   types.StringNull(),
			state:    types.StringValue("meTo_old:389"),
			host:     tftypes.NewValue(tftypes.String, "ds2.example.com"),
			port:     tftypes.NewValue(tftypes.Number, 389),
			sslPort:  tftypes.NewValue(tftypes.Number, nil),
			expected: types.StringValue("meTo_old:389"),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			planValue := test.config
			if planValue.IsNull() {
				planValue = types.StringUnknown()
			}
			rawName, err := planValue.ToTerraformValue(t.Context())
			if err != nil {
				t.Fatalf("Failed to convert name value: %v", err)
			}

			plan := tfsdk.Plan{
				Raw: tftypes.NewValue(tftypes.Object{
					AttributeTypes: map[string]tftypes.Type{
						"name":              tftypes.String,
						"consumer_host":     tftypes.String,
						"consumer_port":     tftypes.Number,
						"consumer_ssl_port": tftypes.Number,
					},
				}, map[string]tftypes.Value{
					"name":              rawName,
					"consumer_host":     test.host,
					"consumer_port":     test.port,
					"consumer_ssl_port": test.sslPort,
				}),
				Schema: schema.Schema{
					Attributes: map[string]schema.Attribute{
						"name":              schema.StringAttribute{Optional: true, Computed: true},
						"consumer_host":     schema.StringAttribute{Required: true},
						"consumer_port":     schema.Int64Attribute{Optional: true},
						"consumer_ssl_port": schema.Int64Attribute{Optional: true},
					},
				},
			}

			req := planmodifier.StringRequest{
				Path:        path.Root("name"),
				ConfigValue: test.config,
				StateValue:  test.state,
				PlanValue:   planValue,
				Plan:        plan,
			}
			resp := &planmodifier.StringResponse{PlanValue: planValue}

			planmodifiers.AgreementNameFromConsumer().PlanModifyString(t.Context(), req, resp)

			if resp.Diagnostics.HasError() {
				t.Fatalf("unexpected diagnostics: %v", resp.Diagnostics)
			}
			if !resp.PlanValue.Equal(test.expected) {
				t.Errorf("expected plan value %s, got %s", test.expected, resp.PlanValue)
			}
		})
	}
}
