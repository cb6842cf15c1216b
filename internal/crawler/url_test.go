package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		base string
		want string
		ok   bool
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/News", "", "https://example.com/News", true},
		{"drops default port", "http://example.com:80/a", "", "http://example.com/a", true},
		{"keeps custom port", "http://example.com:8080/a", "", "http://example.com:8080/a", true},
		{"drops fragment", "https://example.com/a#comments", "", "https://example.com/a", true},
		{"drops credentials", "https://user:pw@example.com/a", "", "https://example.com/a", true},
		{"sorts query and drops tracking", "https://example.com/a?b=2&utm_source=x&a=1&fbclid=z", "", "https://example.com/a?a=1&b=2", true},
		{"empty path becomes root", "https://example.com", "", "https://example.com/", true},
		{"trailing dot host", "https://example.com./a", "", "https://example.com/a", true},
		{"resolves relative path", "../b", "https://example.com/x/y", "https://example.com/b", true},
		{"removes dot segments from absolute url", "http://a.com/./b/../c", "", "http://a.com/c", true},
		{"dot segments keep query", "https://example.com/x/../a?b=1", "", "https://example.com/a?b=1", true},
		{"resolves protocol relative", "//cdn.example.com/img.jpg", "https://example.com/", "https://cdn.example.com/img.jpg", true},
		{"ipv6 host", "http://[::1]:8080/", "", "http://[::1]:8080/", true},
		{"relative without base", "/a", "", "", false},
		{"fragment only", "#top", "https://example.com/", "", false},
		{"javascript", "javascript:void(0)", "https://example.com/", "", false},
		{"mailto", "mailto:news@example.com", "https://example.com/", "", false},
		{"ftp", "ftp://example.com/file", "", "", false},
		{"empty", "   ", "https://example.com/", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Normalize(tc.raw, tc.base)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"HTTPS://Example.COM:443/a%20b?z=1&utm_medium=m&a=x+y#frag",
		"http://example.com/path/?q=%E1%BB%A9ng",
		"https://vnexpress.net/the-gioi",
		"http://[::1]:8080/x?b=&a=",
	}
	for _, raw := range inputs {
		once, ok := Normalize(raw, "")
		require.True(t, ok, raw)
		twice, ok := Normalize(once, "")
		require.True(t, ok, once)
		require.Equal(t, once, twice)
	}
}

func TestMustHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", MustHost("https://Example.com./a"))
	require.Equal(t, "", MustHost("://bad"))
}

func TestNormalize_DotSegmentsShareKey(t *testing.T) {
	t.Parallel()

	dotted, ok := Normalize("http://a.com/./b/../c", "")
	require.True(t, ok)
	relative, ok := Normalize("./b/../c", "http://a.com/")
	require.True(t, ok)
	plain, ok := Normalize("/c", "http://a.com/")
	require.True(t, ok)
	require.Equal(t, plain, dotted)
	require.Equal(t, plain, relative)
}

func TestStripQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/a", StripQuery("https://example.com/a?page=2"))
	require.Equal(t, "https://example.com/a", StripQuery("https://example.com/a"))
}
