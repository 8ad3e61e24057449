package validators

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"

	ldapclient "github.com/isometry/terraform-provider-dirsrv/internal/ldap"
)

var _ validator.String = scheduleValidator{}

// scheduleValidator checks nsds5replicaupdateschedule values ("HHMM-HHMM DAYS").
type scheduleValidator struct{}

func (v scheduleValidator) Description(_ context.Context) string {
	return `value must be a replication schedule such as "0000-2359 0123456", or "" to replicate continuously`
}

func (v scheduleValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v scheduleValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	if err := ldapclient.ValidateSchedule(value); err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid Replication Schedule",
			fmt.Sprintf("The value %q is not a valid replication schedule: %s. "+
				"Use \"HHMM-HHMM DAYS\" where DAYS are digits 0 (Sunday) to 6, e.g. \"0000-2359 0123456\".", value, err.Error()),
		)
	}
}

// IsValidSchedule returns a validator for replication update schedules.
// An empty string is accepted and means "always replicate".
//
// Unknown values and null values are skipped from validation.
func IsValidSchedule() validator.String {
	return scheduleValidator{}
}
