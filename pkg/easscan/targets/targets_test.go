package targets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		stripWWW bool
		want     types.Target
		wantErr  bool
	}{
		{name: "bare host", input: "example.com", want: "example.com"},
		{name: "uppercase", input: "EXAMPLE.Com", want: "example.com"},
		{name: "https url", input: "https://example.com/login?next=/", want: "example.com"},
		{name: "port", input: "example.com:8443", want: "example.com"},
		{name: "credentials", input: "http://user:pw@example.com:80/x", want: "example.com"},
		{name: "trailing dot", input: "example.com.", want: "example.com"},
		{name: "keep www", input: "www.example.com", want: "www.example.com"},
		{name: "strip www", input: "www.example.com", stripWWW: true, want: "example.com"},
		{name: "dmarc label", input: "_dmarc.example.com", want: "_dmarc.example.com"},
		{name: "ipv4", input: "10.0.0.1", want: "10.0.0.1"},
		{name: "surrounding space", input: "  api.example.com  ", want: "api.example.com"},
		{name: "empty", input: "   ", wantErr: true},
		{name: "inner space", input: "exa mple.com", wantErr: true},
		{name: "bad chars", input: "exa$mple.com", wantErr: true},
		{name: "leading hyphen", input: "-example.com", wantErr: true},
		{name: "scheme only", input: "https://", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Normalize(tt.input, tt.stripWWW)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	input := `# discovered by amass
example.com
api.example.com   # primary API
https://EXAMPLE.com/
not a host
 
staging.example.com
`
	list, err := Load(strings.NewReader(input), Options{})
	require.NoError(t, err)

	assert.Equal(t, []types.Target{"example.com", "api.example.com", "staging.example.com"}, list.Targets)
	assert.Equal(t, 1, list.Duplicates)
	require.Len(t, list.Warnings, 1)
	assert.Equal(t, 5, list.Warnings[0].Line)
	assert.Contains(t, list.Warnings[0].String(), "line 5")
}

func TestLoad_Filter(t *testing.T) {
	t.Parallel()

	f, err := NewFilter(WithInclude("*.example.com", "example.com"), WithExclude("*.staging.example.com", "dev.**"))
	require.NoError(t, err)

	input := "example.com\nwww.example.com\napi.staging.example.com\ndev.example.com\nother.org\n"
	list, err := Load(strings.NewReader(input), Options{Filter: f})
	require.NoError(t, err)

	assert.Equal(t, []types.Target{"example.com", "www.example.com"}, list.Targets)
	assert.Equal(t, 3, list.Filtered)
}

func TestFilter_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		include []string
		exclude []string
		target  types.Target
		want    bool
	}{
		{name: "no patterns", target: "a.example.com", want: true},
		{name: "single label star", include: []string{"*.example.com"}, target: "a.example.com", want: true},
		{name: "star does not cross dots", include: []string{"*.example.com"}, target: "a.b.example.com", want: false},
		{name: "super star crosses dots", include: []string{"**.example.com"}, target: "a.b.example.com", want: true},
		{name: "exclude wins", include: []string{"**.example.com"}, exclude: []string{"*.internal.example.com"}, target: "db.internal.example.com", want: false},
		{name: "patterns lowercased", include: []string{"*.EXAMPLE.com"}, target: "a.example.com", want: true},
		{name: "alternatives", include: []string{"{api,www}.example.com"}, target: "www.example.com", want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := NewFilter(WithInclude(tt.include...), WithExclude(tt.exclude...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.target))
		})
	}
}

func TestNewFilter_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewFilter(WithInclude("[a-"))
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestFilter_NilAndEmpty(t *testing.T) {
	t.Parallel()

	var f *Filter
	assert.True(t, f.Match("anything.example"))
	assert.True(t, f.Empty())

	f, err := NewFilter(WithInclude(" "))
	require.NoError(t, err)
	assert.True(t, f.Empty())
}

func TestFromStrings(t *testing.T) {
	t.Parallel()

	list := FromStrings([]string{"a.example", "https://b.example", "a.example"}, Options{})
	assert.Equal(t, []types.Target{"a.example", "b.example"}, list.Targets)
	assert.Equal(t, 1, list.Duplicates)
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadFile("/nonexistent/targets.txt", Options{})
	assert.Error(t, err)
}
