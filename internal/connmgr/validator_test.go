package connmgr

import "testing"

func TestValidateEndpoint(t *testing.T) {
	cases := []struct {
		endpoint string
		wantErr  bool
	}{
		{"ws://localhost:9000", false},
		{"wss://example.com/mcp", false},
		{"", true},
		{"   ", true},
		{"http://example.com", true},
		{"ws://", true},
		{"not a url at all %%", true},
	}
	for _, c := range cases {
		err := ValidateEndpoint(c.endpoint)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateEndpoint(%q) error = %v, wantErr %v", c.endpoint, err, c.wantErr)
		}
		if err != nil && !IsKind(err, KindInvalidEndpoint) {
			t.Errorf("ValidateEndpoint(%q) expected KindInvalidEndpoint, got %v", c.endpoint, err)
		}
	}
}

func TestPartitionEndpoints(t *testing.T) {
	valid, invalid := PartitionEndpoints([]string{"ws://a", "not-valid", "wss://b", ""})
	if len(valid) != 2 || len(invalid) != 2 {
		t.Fatalf("expected 2 valid and 2 invalid, got valid=%v invalid=%v", valid, invalid)
	}
}

func TestValidateOptions_ReportsAllViolations(t *testing.T) {
	violations := ValidateOptions(Options{ReconnectInterval: 0, MaxReconnectAttempts: -1, ConnectionTimeout: 0})
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %d: %v", len(violations), violations)
	}
}

func TestValidateOptions_DefaultsAreValid(t *testing.T) {
	if violations := ValidateOptions(DefaultOptions()); len(violations) != 0 {
		t.Fatalf("expected DefaultOptions to be valid, got %v", violations)
	}
}
