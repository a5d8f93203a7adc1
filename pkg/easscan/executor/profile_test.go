package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"testssl", "httpx", "nmap", "checkdmarc"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p, err := Lookup(name)
			require.NoError(t, err)
			require.NoError(t, p.Validate())

			args, err := p.Render(ArgData{Target: "example.com", Artifact: "/out/a", Dir: "/out"})
			require.NoError(t, err)
			assert.Contains(t, args, "example.com")
		})
	}

	_, err := Lookup("amass")
	assert.ErrorIs(t, err, types.ErrConfiguration)
	assert.Equal(t, []string{"checkdmarc", "httpx", "nmap", "testssl"}, Builtins())
}

func TestLookup_ReturnsCopy(t *testing.T) {
	t.Parallel()

	p, err := Lookup("nmap")
	require.NoError(t, err)
	p.Args[0] = "--mutated"

	again, err := Lookup("nmap")
	require.NoError(t, err)
	assert.Equal(t, "-Pn", again.Args[0])
}

func TestProfile_Override(t *testing.T) {
	t.Parallel()

	p, err := Lookup("testssl")
	require.NoError(t, err)

	o := p.Override(Profile{Binary: "/opt/testssl/testssl.sh", Args: []string{"--fast", "{{.Target}}"}})
	assert.Equal(t, "/opt/testssl/testssl.sh", o.Binary)
	assert.Equal(t, []string{"--fast", "{{.Target}}"}, o.Args)
	assert.Equal(t, "testssl.json", o.Artifact)
}

func TestProfile_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile Profile
	}{
		{name: "no name", profile: Profile{Binary: "x", Artifact: "a"}},
		{name: "no binary", profile: Profile{Name: "x", Artifact: "a"}},
		{name: "no artifact", profile: Profile{Name: "x", Binary: "x"}},
		{name: "bad template", profile: Profile{Name: "x", Binary: "x", Artifact: "a", Args: []string{"{{.Target"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, tt.profile.Validate(), types.ErrConfiguration)
		})
	}
}

func TestProfile_RenderUnknownField(t *testing.T) {
	t.Parallel()

	p := Profile{Name: "x", Binary: "x", Artifact: "a", Args: []string{"{{.Port}}"}}
	_, err := p.Render(ArgData{Target: "example.com"})
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var got types.Target
	f := Func(func(_ context.Context, target types.Target, _ time.Duration) (Invocation, error) {
		got = target
		return Invocation{ExitStatus: 0, ArtifactPath: "/tmp/x"}, nil
	})

	inv, err := f.Invoke(context.Background(), "example.com", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.Target("example.com"), got)
	assert.Equal(t, "/tmp/x", inv.ArtifactPath)
}
