package validators_test

import (
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"

	"github.com/isometry/terraform-provider-dirsrv/internal/provider/validators"
)

func TestDurationValidator(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		val         types.String
		expectError bool
	}{
		"seconds":  {val: types.StringValue("90s")},
		"compound": {val: types.StringValue("1h30m")},
		"null":     {val: types.StringNull()},
		"unknown":  {val: types.StringUnknown()},
		"no unit":  {val: types.StringValue("90"), expectError: true},
		"zero":     {val: types.StringValue("0s"), expectError: true},
		"negative": {val: types.StringValue("-5m"), expectError: true},
		"garbage":  {val: types.StringValue("soon"), expectError: true},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			request := validator.StringRequest{
				Path:        path.Root("init_timeout"),
				ConfigValue: test.val,
			}
			response := validator.StringResponse{}

			validators.IsValidDuration().ValidateString(t.Context(), request, &response)

			if response.Diagnostics.HasError() != test.expectError {
				t.Fatalf("expectError=%v, got diagnostics: %s", test.expectError, response.Diagnostics)
			}
		})
	}
}
