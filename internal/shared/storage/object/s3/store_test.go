package s3

import "testing"

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "transcripts/abc/s1.log", want: "transcripts/abc/s1.log"},
		{name: "simple prefix", prefix: "root", key: "transcripts/abc/s1.log", want: "root/transcripts/abc/s1.log"},
		{name: "prefix trailing slash", prefix: "root/", key: "transcripts/abc/s1.log", want: "root/transcripts/abc/s1.log"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/transcripts/abc/s1.log", want: "root/transcripts/abc/s1.log"},
		{name: "nested prefix", prefix: "root/sub", key: "transcripts/abc/s1.log", want: "root/sub/transcripts/abc/s1.log"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}
