package subcmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/flowtele/internal/state"
	"github.com/temoto/flowtele/log2"
)

func noop(context.Context, *state.Config, *log2.Log) error { return nil }

var testMods = []Mod{
	{Name: "run", Desc: "agent", Service: true, Main: noop},
	{Name: "console", Desc: "dry run", Main: noop},
}

func TestParse(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input  string
		expect string
		check  func(error) bool
	}{
		{"run", "run", nil},
		{"console", "console", nil},
		{"", "", errors.IsNotValid},
		{"mdb", "", errors.IsNotFound},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			t.Parallel()
			m, err := Parse(c.input, testMods)
			if c.check != nil {
				require.Error(t, err)
				assert.True(t, c.check(err), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, m.Name)
		})
	}
}

func TestUsage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Usage(&buf, testMods)
	assert.Equal(t, "  run        agent\n  console    dry run\n", buf.String())
}
