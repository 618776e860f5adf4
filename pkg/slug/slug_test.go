package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"Printer on fire!!", "printer-on-fire"},
		{"  spaced   out  ", "spaced-out"},
		{"Überraschung für José", "uberraschung-fur-jose"},
		{"re: RE: Fwd: help", "re-re-fwd-help"},
		{"C:\\Users\\path/to|file?", "c-users-path-to-file"},
		{"42", "42"},
		{"", "untitled"},
		{"!!!", "untitled"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Make(tc.in), "input %q", tc.in)
	}
}

func TestMakeTruncates(t *testing.T) {
	long := strings.Repeat("word-", 40)
	got := Make(long)
	assert.LessOrEqual(t, len(got), 80)
	assert.False(t, strings.HasSuffix(got, "-"))
}

func TestMakeDeterministic(t *testing.T) {
	assert.Equal(t, Make("Acme Corp"), Make("Acme Corp"))
}
