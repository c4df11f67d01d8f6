package logging

import "testing"

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"payload", "Payload", " SIGNATURE ", "symKey", "typedData"} {
		if !IsSensitive(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	for _, key := range []string{"topic", "origin", "method", "chainId"} {
		if IsSensitive(key) {
			t.Fatalf("expected %q to pass through", key)
		}
	}
}

func TestMaskField(t *testing.T) {
	attr := MaskField("payload", `{"method":"eth_sign"}`)
	if attr.Value.String() != RedactedValue {
		t.Fatalf("sensitive value must be masked, got %q", attr.Value.String())
	}
	attr = MaskField("topic", "abc123")
	if attr.Value.String() != "abc123" {
		t.Fatalf("non-sensitive value must pass through, got %q", attr.Value.String())
	}
	attr = MaskField("payload", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty values stay empty, got %q", attr.Value.String())
	}
}
