package validators

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
)

var _ validator.String = durationValidator{}

type durationValidator struct{}

func (v durationValidator) Description(_ context.Context) string {
	return `value must be a positive Go duration such as "90s" or "15m"`
}

func (v durationValidator) MarkdownDescription(ctx context.Context) string {
	return v.Description(ctx)
}

func (v durationValidator) ValidateString(ctx context.Context, request validator.StringRequest, response *validator.StringResponse) {
	if request.ConfigValue.IsNull() || request.ConfigValue.IsUnknown() {
		return
	}

	value := request.ConfigValue.ValueString()
	d, err := time.ParseDuration(value)
	if err == nil && d <= 0 {
		err = fmt.Errorf("duration must be positive")
	}
	if err != nil {
		response.Diagnostics.AddAttributeError(
			request.Path,
			"Invalid Duration",
			fmt.Sprintf("The value %q is not a valid duration: %s.", value, err.Error()),
		)
	}
}

// IsValidDuration returns a validator for positive time.ParseDuration strings.
func IsValidDuration() validator.String {
	return durationValidator{}
}
