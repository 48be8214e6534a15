package nlp

import (
	"strings"
	"testing"
)

func TestMetaTokens(t *testing.T) {
	a := New()

	testCases := []struct {
		name string
		cmd  string
		want []string
	}{
		{
			name: "plain command has no flags",
			cmd:  "dir /s C:\\Users",
			want: nil,
		},
		{
			name: "chained with double ampersand",
			cmd:  "whoami && hostname",
			want: []string{TokenMultiDelim},
		},
		{
			name: "chained with double semicolon",
			cmd:  "a ;; b",
			want: []string{TokenMultiDelim},
		},
		{
			name: "encoded flag",
			cmd:  "powershell -enc SQBFAFgA",
			want: []string{TokenEncoded},
		},
		{
			name: "base64 keyword",
			cmd:  "copy base64.txt out.bin",
			want: []string{TokenEncoded},
		},
		{
			name: "hex blob",
			cmd:  "reg add HKCU\\x /d 0xdeadbeef",
			want: []string{TokenHexBlob},
		},
		{
			name: "short hex still flagged",
			cmd:  "set MASK=0xff",
			want: []string{TokenHexBlob},
		},
		{
			name: "empty command",
			cmd:  "",
			want: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.MetaTokens(tc.cmd)
			if !equalTokens(got, tc.want) {
				t.Errorf("MetaTokens(%q) = %v, want %v", tc.cmd, got, tc.want)
			}
		})
	}
}

func TestMetaTokensLongCommand(t *testing.T) {
	a := New()

	long := "cmd /c " + strings.Repeat("x", LongCmdThreshold)
	got := a.MetaTokens(long)
	if !containsToken(got, TokenLongCmd) {
		t.Errorf("MetaTokens(long) = %v, want to include %s", got, TokenLongCmd)
	}

	at := strings.Repeat("x", LongCmdThreshold)
	if containsToken(a.MetaTokens(at), TokenLongCmd) {
		t.Errorf("command exactly at threshold should not be flagged")
	}

	// The threshold counts characters; a multibyte command at the limit is
	// twice the limit in bytes and still not long.
	multibyteAt := strings.Repeat("é", LongCmdThreshold)
	if containsToken(a.MetaTokens(multibyteAt), TokenLongCmd) {
		t.Errorf("multibyte command at threshold should not be flagged")
	}
	if !containsToken(a.MetaTokens(multibyteAt+"é"), TokenLongCmd) {
		t.Errorf("multibyte command over threshold should be flagged")
	}
}

func TestMetaTokensOrderIsStable(t *testing.T) {
	a := New()

	cmd := strings.Repeat("z ", 160) + "&& powershell -enc 0xabcd"
	want := []string{TokenLongCmd, TokenMultiDelim, TokenEncoded, TokenHexBlob}

	got := a.MetaTokens(cmd)
	if !equalTokens(got, want) {
		t.Errorf("MetaTokens() = %v, want fixed order %v", got, want)
	}
}

func TestMetaTokensDeterministic(t *testing.T) {
	a := New()
	cmd := "powershell -enc SQBFAFgA && del 0xff.bin"
	first := a.MetaTokens(cmd)
	for i := 0; i < 5; i++ {
		if got := a.MetaTokens(cmd); !equalTokens(got, first) {
			t.Fatalf("MetaTokens not deterministic: %v vs %v", got, first)
		}
	}
}

func TestAugment(t *testing.T) {
	a := New()

	// No flags: the command still gains a trailing separator so augmented
	// text is uniform for the model.
	if got := a.Augment("dir"); got != "dir " {
		t.Errorf("Augment(%q) = %q, want %q", "dir", got, "dir ")
	}

	got := a.Augment("powershell -enc SQBFAFgA")
	if !strings.HasPrefix(got, "powershell -enc SQBFAFgA ") {
		t.Errorf("Augment should preserve the original prefix, got %q", got)
	}
	if !strings.Contains(got, TokenEncoded) {
		t.Errorf("Augment should append %s, got %q", TokenEncoded, got)
	}
}

func TestSuspectVerbBaseForms(t *testing.T) {
	testCases := []struct {
		word string
		want string
	}{
		{"download", "download"},
		{"Downloads", "download"},
		{"downloaded", "download"},
		{"downloading", "download"},
		{"invokes", "invoke"},
		{"injecting", "inject"},
		{"lists", "lists"}, // not in the suspect set, unchanged
	}
	for _, tc := range testCases {
		if got := baseVerb(tc.word); got != tc.want {
			t.Errorf("baseVerb(%q) = %q, want %q", tc.word, got, tc.want)
		}
	}
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}
