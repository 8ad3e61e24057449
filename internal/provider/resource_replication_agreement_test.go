package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-testing/helper/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

func TestInitErrorSummary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"busy", fmt.Errorf("%w: gave up after 5 attempts", ldapclient.ErrReplicaBusy), "Consumer Replica Busy"},
		{"failed", fmt.Errorf("%w: Total update aborted", ldapclient.ErrInitFailed), "Replica Initialization Failed"},
		{"unrecognized", fmt.Errorf("%w: \"?\"", ldapclient.ErrUnrecognizedInitStatus), "Unrecognized Replica Initialization Status"},
		{"timeout", fmt.Errorf("waiting for initialization: %w", context.DeadlineExceeded), "Replica Initialization Timed Out"},
		{"other", errors.New("connection reset"), "Error Initializing Replica"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, initErrorSummary(tt.err))
		})
	}
}

func TestInitWaitOptions(t *testing.T) {
	tests := []struct {
		name            string
		model           ReplicationAgreementResourceModel
		wantTimeout     time.Duration
		wantMaxAttempts int
		wantErr         bool
	}{
		{
			name: "defaults",
			model: ReplicationAgreementResourceModel{
				InitTimeout:     types.StringNull(),
				InitMaxAttempts: types.Int64Null(),
			},
			wantMaxAttempts: 5,
		},
		{
			name: "configured",
			model: ReplicationAgreementResourceModel{
				InitTimeout:     types.StringValue("15m"),
				InitMaxAttempts: types.Int64Value(2),
			},
			wantTimeout:     15 * time.Minute,
			wantMaxAttempts: 2,
		},
		{
			name: "invalid timeout",
			model: ReplicationAgreementResourceModel{
				InitTimeout:     types.StringValue("a while"),
				InitMaxAttempts: types.Int64Null(),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := initWaitOptions(&tt.model)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "init_timeout")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTimeout, opts.Timeout)
			assert.Equal(t, tt.wantMaxAttempts, opts.MaxAttempts)
			assert.Equal(t, time.Second, opts.PollInterval)
		})
	}
}

func TestUpdateModelFromAgreement(t *testing.T) {
	const dn = `cn=meTo_ds2.example.com:636,cn=replica,cn=dc\=example\,dc\=com,cn=mapping tree,cn=config`

	tests := []struct {
		name  string
		model ReplicationAgreementResourceModel
		agmt  ldapclient.Agreement
		check func(t *testing.T, m ReplicationAgreementResourceModel)
	}{
		{
			name: "ssl transport keeps configured plain port",
			model: ReplicationAgreementResourceModel{
				ConsumerPort: types.Int64Value(3389),
				BindMethod:   types.StringValue("simple"),
				Schedule:     types.StringNull(),
			},
			agmt: ldapclient.Agreement{
				DN:           dn,
				CN:           "meTo_ds2.example.com:636",
				Suffix:       "dc=example,dc=com",
				ConsumerHost: "ds2.example.com",
				ConsumerPort: 636,
				Transport:    ldapclient.TransportSSL,
				BindMethod:   "SIMPLE",
			},
			check: func(t *testing.T, m ReplicationAgreementResourceModel) {
				assert.Equal(t, int64(3389), m.ConsumerPort.ValueInt64())
				assert.Equal(t, int64(636), m.ConsumerSSLPort.ValueInt64())
				assert.False(t, m.StartTLS.ValueBool())
				assert.Equal(t, "simple", m.BindMethod.ValueString())
				assert.True(t, m.Enabled.ValueBool())
				assert.True(t, m.Schedule.IsNull())
				assert.True(t, m.Fractional.IsNull())
			},
		},
		{
			name: "starttls",
			model: ReplicationAgreementResourceModel{
				BindMethod: types.StringNull(),
				Schedule:   types.StringNull(),
			},
			agmt: ldapclient.Agreement{
				DN:           dn,
				Suffix:       "dc=example,dc=com",
				ConsumerPort: 389,
				Transport:    ldapclient.TransportTLS,
				BindMethod:   "sasl/gssapi",
				Fractional:   []string{"(objectclass=*) $ EXCLUDE memberof"},
			},
			check: func(t *testing.T, m ReplicationAgreementResourceModel) {
				assert.Equal(t, int64(389), m.ConsumerPort.ValueInt64())
				assert.True(t, m.ConsumerSSLPort.IsNull())
				assert.True(t, m.StartTLS.ValueBool())
				assert.Equal(t, "SASL/GSSAPI", m.BindMethod.ValueString())
				assert.False(t, m.Fractional.IsNull())
			},
		},
		{
			name: "stopped schedule disables and keeps configured schedule",
			model: ReplicationAgreementResourceModel{
				BindMethod: types.StringNull(),
				Schedule:   types.StringValue("0000-0500 0123456"),
			},
			agmt: ldapclient.Agreement{
				DN:       dn,
				Suffix:   "dc=example,dc=com",
				Schedule: ldapclient.ScheduleStop,
			},
			check: func(t *testing.T, m ReplicationAgreementResourceModel) {
				assert.False(t, m.Enabled.ValueBool())
				assert.Equal(t, "0000-0500 0123456", m.Schedule.ValueString())
			},
		},
		{
			name: "suffix spelling preserved",
			model: ReplicationAgreementResourceModel{
				BindMethod: types.StringNull(),
				Schedule:   types.StringNull(),
			},
			agmt: ldapclient.Agreement{
				DN:       dn,
				Suffix:   "dc=example,dc=com",
				Schedule: "0800-1700 12345",
			},
			check: func(t *testing.T, m ReplicationAgreementResourceModel) {
				assert.Equal(t, "dc=example,dc=com", m.Suffix.ValueString())
				assert.Equal(t, "0800-1700 12345", m.Schedule.ValueString())
				assert.Equal(t, dn, m.ID.ValueString())
				assert.Equal(t, dn, m.DN.ValueString())
			},
		},
	}

	r := &ReplicationAgreementResource{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := tt.model
			r.updateModelFromAgreement(&model, &tt.agmt)
			tt.check(t, model)
		})
	}
}

func TestAccReplicationAgreementResource_basic(t *testing.T) {
	config := testAccPreCheckConsumer(t)
	gen := NewTestDataGenerator()
	suffix := gen.TestSuffix()
	name := GenerateTestBackendName()

	resource.Test(t, resource.TestCase{
		ProtoV6ProviderFactories: testAccProtoV6ProviderFactories,
		CheckDestroy:             TestCheckDestroy,
		Steps: []resource.TestStep{
			// Create without initialization
			{
				Config: TestProviderConfig() + testAccReplicationAgreementConfig(gen, name, suffix, config.ConsumerHost, true),
				Check: resource.ComposeAggregateTestCheckFunc(
					TestCheckReplicaExists("dirsrv_replica.test"),
					resource.TestCheckResourceAttr("dirsrv_replication_agreement.test", "name", fmt.Sprintf("meTo_%s:389", config.ConsumerHost)),
					resource.TestCheckResourceAttr("dirsrv_replication_agreement.test", "transport", "LDAP"),
					resource.TestCheckResourceAttr("dirsrv_replication_agreement.test", "enabled", "true"),
					resource.TestCheckResourceAttrSet("dirsrv_replication_agreement.test", "dn"),
				),
			},
			// Pause replication
			{
				Config: TestProviderConfig() + testAccReplicationAgreementConfig(gen, name, suffix, config.ConsumerHost, false),
				Check: resource.ComposeAggregateTestCheckFunc(
					resource.TestCheckResourceAttr("dirsrv_replication_agreement.test", "enabled", "false"),
				),
			},
			// ImportState testing
			{
				ResourceName:            "dirsrv_replication_agreement.test",
				ImportState:             true,
				ImportStateVerify:       true,
				ImportStateVerifyIgnore: []string{"bind_password", "initialize", "init_timeout", "init_max_attempts", "last_init_status"},
			},
		},
	})
}

func testAccReplicationAgreementConfig(gen *TestDataGenerator, name, suffix, consumer string, enabled bool) string {
	return gen.GenerateReplicaConfig(name, suffix, 1) + fmt.Sprintf(`

resource "dirsrv_replication_agreement" "test" {
  suffix        = dirsrv_replica.test.suffix
  consumer_host = %[1]q
  bind_dn       = "cn=replication manager,cn=config"
  bind_password = "tf-test-password"
  enabled       = %[2]t
}`, consumer, enabled)
}
