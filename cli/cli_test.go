package cli_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/absmach/cffl"
	"github.com/absmach/cffl/cli"
	"github.com/absmach/cffl/pkg/results"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestInitDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.toml")

	cmd := cli.NewInitCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--defaults", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "experiment written to")

	cfg, err := cffl.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cffl.Default(), *cfg)
}

func TestResults(t *testing.T) {
	dir := t.TempDir()
	summary, err := results.Summarize([]results.Metrics{
		{"federated_final_performance": {0.8}},
		{"federated_final_performance": {0.9}},
	})
	require.NoError(t, err)
	require.NoError(t, results.Save(dir, summary))

	cases := []struct {
		desc     string
		complete bool
		args     []string
		stdout   string
		stderr   string
	}{
		{desc: "incomplete experiment", args: []string{dir}, stderr: "not complete"},
		{desc: "summary", complete: true, args: []string{dir}, stdout: `"mean"`},
		{desc: "every repeat", complete: true, args: []string{"--all", dir}, stdout: `"federated_final_performance_std"`},
		{desc: "missing argument", complete: true, args: []string{}, stdout: "usage: results <dir>"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			if tc.complete {
				require.NoError(t, results.MarkComplete(dir))
			}

			cmd := cli.NewResultsCmd()
			var stdout, stderr bytes.Buffer
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)
			cmd.SetArgs(tc.args)
			require.NoError(t, cmd.Execute())

			if tc.stdout != "" {
				assert.Contains(t, stdout.String(), tc.stdout)
			}
			if tc.stderr != "" {
				assert.Contains(t, stderr.String(), tc.stderr)
			}
		})
	}
}
