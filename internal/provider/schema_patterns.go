package provider

import (
	"regexp"

	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringplanmodifier"
)

// Patterns shared by resource and data source schemas.
var (
	ldapURLRegex = regexp.MustCompile(`^ldaps?://[^\s/]+(/.*)?$`)
	digitsRegex  = regexp.MustCompile(`^[0-9]+$`)
	// Backend names become the cn of a cn=<name>,cn=ldbm database entry.
	backendNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// String plan modifiers shared by resource schemas.
var (
	keepState       = []planmodifier.String{stringplanmodifier.UseStateForUnknown()}
	replaceOnChange = []planmodifier.String{stringplanmodifier.RequiresReplace()}
)
