package util

import "testing"

func TestSanitizeLine(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Applied to Acme Corp", "Applied to Acme Corp"},
		{"newlines", "line one\nline two\r\nline three", "line one line two  line three"},
		{"tabs", "col1\tcol2", "col1 col2"},
		{"control", "abc\x00\x01def", "abcdef"},
		{"surrounding space", "  padded  ", "padded"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		if got := SanitizeLine(tc.in); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}
