package txid

import "testing"

func TestExtract(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"structured field", `{"transaction_id":"tx_99"}`, "tx_99", true},
		{"structured priority over uuid", `{"id":"3f2b8c1e-0000-4000-8000-000000000001","transaction_id":"tx_1"}`, "tx_1", true},
		{"structured id fallback", `{"status":"QUEUED","id":"abc"}`, "abc", true},
		{"structured tx_id", `{"tx_id":"t-7"}`, "t-7", true},
		{"numeric id", `{"id":123456789012}`, "123456789012", true},
		{"numeric transaction_id", `{"transaction_id":98765432101234}`, "98765432101234", true},
		{"uuid in prose", "Done. Reference 3F2B8C1E-1111-4222-8333-444455556666 queued.", "3F2B8C1E-1111-4222-8333-444455556666", true},
		{"transaction id label", "Transaction ID: abc_123", "abc_123", true},
		{"tx label", "tx-id: zz9", "zz9", true},
		{"chain hash", "hash 0x" + repeat("ab", 32) + " confirmed", "0x" + repeat("ab", 32), true},
		{"long alnum", "ref " + repeat("a1", 20), repeat("a1", 20), true},
		{"nothing", "payment pending, no reference yet", "", false},
		{"empty", "", "", false},
		{"json without fields", `{"status":"ok"}`, "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Extract(tc.text)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Extract(%q) = (%q, %v), want (%q, %v)", tc.text, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestExtractStructuredBeatsBareUUID(t *testing.T) {
	t.Parallel()

	text := `{"transaction_id":"tx_42","note":"see 3f2b8c1e-0000-4000-8000-000000000001"}`
	if got, _ := Extract(text); got != "tx_42" {
		t.Fatalf("structured field should win, got %q", got)
	}
}

func TestExtractIsPure(t *testing.T) {
	t.Parallel()

	text := "Transaction ID: qwerty-1 and 0x" + repeat("0f", 32)
	a, okA := Extract(text)
	b, okB := Extract(text)
	if a != b || okA != okB {
		t.Fatalf("Extract not deterministic: %q/%v vs %q/%v", a, okA, b, okB)
	}
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
