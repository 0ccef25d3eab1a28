package masking

import "testing"

func TestMaskSecretKeepsPrefixAndSuffix(t *testing.T) {
	if got := MaskSecret("acct_1PxQ9zLmN0aBcD"); got != "acct_****aBcD" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskSecret("acct_12"); got != "acct_****" {
		t.Fatalf("unexpected short mask %q", got)
	}
	if got := MaskSecret("  "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestMaskMetadataOnlyTouchesSensitiveKeys(t *testing.T) {
	out := MaskMetadata(map[string]any{
		"destination": "acct_1PxQ9zLmN0aBcD",
		"amount":      int64(55000),
		"reason":      "transfer_failed",
		"nested":      map[string]any{"email": "jo@example.com"},
	})

	if out["destination"] != "acct_****aBcD" {
		t.Fatalf("destination not masked: %v", out["destination"])
	}
	if out["amount"] != int64(55000) || out["reason"] != "transfer_failed" {
		t.Fatalf("non-sensitive values changed: %v", out)
	}
	nested := out["nested"].(map[string]any)
	if nested["email"] == "jo@example.com" {
		t.Fatalf("nested email not masked")
	}
}
