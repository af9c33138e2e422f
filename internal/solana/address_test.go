package solana

import "testing"

func TestIsValidAddress(t *testing.T) {
	// Wrapped SOL mint, always a valid 32-byte base58 address.
	if !IsValidAddress("So11111111111111111111111111111111111111112") {
		t.Error("WSOL mint should be valid")
	}

	cases := []string{
		"",
		"not-base58-0OIl",
		"abc",                // too short
		"So111111111111111111111111111111111111111111111111112", // too long
	}
	for _, c := range cases {
		if IsValidAddress(c) {
			t.Errorf("expected %q to be invalid", c)
		}
	}
}

func TestIsOnCurve(t *testing.T) {
	// The system program address decodes to 32 zero bytes, which is a
	// valid (identity-adjacent) curve encoding.
	if !IsOnCurve("11111111111111111111111111111111") {
		t.Error("system program address should decode to a curve point")
	}
	if IsOnCurve("abc") {
		t.Error("short input should not be on curve")
	}
}
