package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentFilter_CleanContent(t *testing.T) {
	filter := NewContentFilter()

	ok, pattern := filter.Screen("Hello, your verification code is 123456.")
	assert.True(t, ok)
	assert.Empty(t, pattern)

	// Regular HTML is fine
	ok, _ = filter.Screen("<p>Welcome! <a href=\"https://example.com\">Confirm</a></p>")
	assert.True(t, ok)
}

func TestContentFilter_DangerousPatterns(t *testing.T) {
	cases := []struct {
		name    string
		content string
		pattern string
	}{
		{"script tag", "<html><script>alert(1)</script></html>", "<script"},
		{"javascript url", `<a href="javascript:void(0)">x</a>`, "javascript:"},
		{"data html url", `<iframe src="data:text/html;base64,PGh0bWw+"></iframe>`, "data:text/html"},
		{"vbscript url", `<a href="vbscript:msgbox(1)">x</a>`, "vbscript:"},
		{"onload handler", `<body onload=steal()>`, "onload="},
		{"onerror handler", `<img src=x onerror=steal()>`, "onerror="},
	}

	filter := NewContentFilter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, pattern := filter.Screen(tc.content)
			assert.False(t, ok)
			assert.Equal(t, tc.pattern, pattern)
		})
	}
}

func TestContentFilter_CaseInsensitive(t *testing.T) {
	filter := NewContentFilter()

	ok, pattern := filter.Screen("<SCRIPT>alert(1)</SCRIPT>")
	assert.False(t, ok)
	assert.Equal(t, "<script", pattern)

	ok, _ = filter.Screen("JaVaScRiPt:alert(1)")
	assert.False(t, ok)
}
