package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

// initializeLogging registers the provider subsystem and the client
// subsystems, each levelled by TF_LOG_PROVIDER_DIRSRV_<SUBSYSTEM>.
func initializeLogging(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, "provider",
		tflog.WithLevelFromEnv("TF_LOG_PROVIDER_DIRSRV_PROVIDER"))
	return ldapclient.WithSubsystems(ctx, nil)
}

// trackResource initializes logging for a resource operation. The returned
// func, deferred by the caller, logs the outcome found in diags.
func trackResource(ctx context.Context, resource, operation string, diags *diag.Diagnostics) (context.Context, func()) {
	ctx = initializeLogging(ctx)
	done := ldapclient.LogResourceOperation(ctx, resource, operation, nil)
	return ctx, func() { done(firstError(*diags)) }
}

// providerDataFrom unwraps the value passed to Configure. It returns nil
// without diagnostics when the provider has not been configured yet.
func providerDataFrom(data any, kind string, diags *diag.Diagnostics) *ldapclient.ProviderData {
	if data == nil {
		return nil
	}

	providerData, ok := data.(*ldapclient.ProviderData)
	if !ok {
		diags.AddError(
			"Unexpected "+kind+" Configure Type",
			fmt.Sprintf("Expected *ldapclient.ProviderData, got: %T. Please report this issue to the provider developers.", data),
		)
		return nil
	}
	return providerData
}

// firstError flattens the first error diagnostic for lifecycle logging.
func firstError(diags diag.Diagnostics) error {
	for _, d := range diags.Errors() {
		return fmt.Errorf("%s: %s", d.Summary(), d.Detail())
	}
	return nil
}
