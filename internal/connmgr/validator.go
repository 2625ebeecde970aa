package connmgr

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// optionsValidate is a package-level validator instance, mirroring the
// teacher pack's pkg/utils.ValidateStruct (2lar-b2) — a single *validator.Validate
// reused across calls rather than constructed per-request.
var optionsValidate = validator.New()

// ValidateEndpoint enforces the three checks in spec.md §4.6: non-empty,
// ws/wss scheme, and a successful URL parse. It returns a *Error of kind
// KindInvalidEndpoint on the first failing check.
func ValidateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return newErr(KindInvalidEndpoint, endpoint, fmt.Errorf("endpoint must not be empty"))
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return newErr(KindInvalidEndpoint, endpoint, fmt.Errorf("not a valid URL: %w", err))
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return newErr(KindInvalidEndpoint, endpoint, fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme))
	}
	if u.Host == "" {
		return newErr(KindInvalidEndpoint, endpoint, fmt.Errorf("missing host"))
	}
	return nil
}

// PartitionEndpoints splits endpoints into valid and invalid sets without
// stopping at the first offender, so updateEndpoints can proceed with what
// validates and log what doesn't (spec.md §4.6).
func PartitionEndpoints(endpoints []string) (valid []string, invalid []string) {
	for _, e := range endpoints {
		if err := ValidateEndpoint(e); err != nil {
			invalid = append(invalid, e)
			continue
		}
		valid = append(valid, e)
	}
	return valid, invalid
}

// ValidateOptions enforces the constraint table in spec.md §3 as a strict
// schema: unknown keys are not representable (Options is a closed struct),
// and every out-of-range field is reported, not just the first.
func ValidateOptions(o Options) []string {
	if err := optionsValidate.Struct(o); err == nil {
		return nil
	} else if verrs, ok := err.(validator.ValidationErrors); ok {
		violations := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			violations = append(violations, formatViolation(fe))
		}
		return violations
	} else {
		return []string{err.Error()}
	}
}

// formatViolation turns a validator.FieldError into the spec's constraint
// language ("reconnectInterval must be >= 100ms"), not the library's
// generic "reconnectinterval failed on the 'gte' tag" message.
func formatViolation(fe validator.FieldError) string {
	switch fe.Field() {
	case "ReconnectInterval":
		return "reconnectInterval must be >= 100ms"
	case "MaxReconnectAttempts":
		return "maxReconnectAttempts must be >= 0"
	case "ConnectionTimeout":
		return "connectionTimeout must be >= 1000ms"
	default:
		return fmt.Sprintf("%s failed validation (%s)", fe.Field(), fe.Tag())
	}
}
