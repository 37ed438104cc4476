package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/fieldscenes/internal/hubtest"
)

const field = `{"type":"Feature","properties":{"FeldID":"7"},"geometry":{"type":"Polygon",
"coordinates":[[[11.689,48.401],[11.6952,48.401],[11.6952,48.4047],[11.689,48.4047],[11.689,48.401]]]}}`

func setupEnv(t *testing.T, hub *hubtest.Hub) (string, string) {
	t.Helper()
	t.Setenv("SH_CLIENT_ID", "id")
	t.Setenv("SH_CLIENT_SECRET", "secret")
	t.Setenv("SH_BASE_URL", hub.URL())
	t.Setenv("SH_TOKEN_URL", hub.TokenURL())

	root := t.TempDir()
	input := filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(filepath.Join(input, "Hof"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(input, "Hof", "Heindlacker.geojson"), []byte(field), 0o644))
	return input, filepath.Join(root, "out")
}

func args(cmd, input, output string, extra ...string) []string {
	return append([]string{cmd, "--input", input, "--output", output,
		"--start", "2024-06-01", "--end", "2024-06-10", "--bands", "B02,B03,B04"}, extra...)
}

func TestFetchCommand(t *testing.T) {
	hub := hubtest.New(t)
	hub.AddScene("S2A_20240603", "2024-06-03T10:36:14Z", 5)
	input, output := setupEnv(t, hub)
	metricsPath := filepath.Join(t.TempDir(), "fieldscenes.prom")
	t.Setenv("METRICS_TEXTFILE", metricsPath)

	var out bytes.Buffer
	code := execute(context.Background(), args("fetch", input, output), &out, &out)
	require.Equal(t, exitOK, code, out.String())

	tifs, err := filepath.Glob(filepath.Join(output, "Hof", "Heindlacker", "2024-06-03", "*.tif"))
	require.NoError(t, err)
	assert.Len(t, tifs, 3)

	logs, err := filepath.Glob(filepath.Join(output, "_runlogs", "run-*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=fetched")

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `fieldscenes_targets_total{outcome="fetched"} 1`)
}

func TestPlanCommandDoesNotFetch(t *testing.T) {
	hub := hubtest.New(t)
	hub.AddScene("S2A_20240603", "2024-06-03T10:36:14Z", 5)
	input, output := setupEnv(t, hub)

	var out bytes.Buffer
	code := execute(context.Background(), args("plan", input, output), &out, &out)
	require.Equal(t, exitOK, code, out.String())
	assert.Zero(t, hub.ProcessCalls())
	assert.Contains(t, out.String(), "msg=planned")
}

func TestFetchCommandFailureExitCode(t *testing.T) {
	hub := hubtest.New(t)
	hub.AddScene("S2A_20240603", "2024-06-03T10:36:14Z", 5)
	hub.FailProcess = func(hubtest.ProcessRequest) bool { return true }
	input, output := setupEnv(t, hub)

	var out bytes.Buffer
	code := execute(context.Background(), args("fetch", input, output), &out, &out)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, out.String(), "msg=failed")
}

func TestSetupErrors(t *testing.T) {
	hub := hubtest.New(t)
	input, output := setupEnv(t, hub)

	tests := []struct {
		name string
		args []string
		env  map[string]string
		want string
	}{
		{
			name: "missing flags",
			args: []string{"fetch", "--input", input},
			want: "required flag",
		},
		{
			name: "bad date",
			args: []string{"fetch", "--input", input, "--output", output, "--start", "06/01/2024", "--end", "2024-06-10"},
			want: "YYYY-MM-DD",
		},
		{
			name: "unknown band",
			args: args("fetch", input, output, "--bands", "B02,B99"),
			want: "B99",
		},
		{
			name: "reversed range",
			args: []string{"fetch", "--input", input, "--output", output, "--start", "2024-06-10", "--end", "2024-06-01"},
			want: "before",
		},
		{
			name: "missing credentials",
			args: args("fetch", input, output),
			env:  map[string]string{"SH_CLIENT_SECRET": ""},
			want: "SH_CLIENT_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var out bytes.Buffer
			code := execute(context.Background(), tt.args, &out, &out)
			assert.Equal(t, exitSetup, code)
			assert.Contains(t, out.String(), tt.want)
		})
	}
	assert.Zero(t, hub.CatalogCalls())
}

func TestConfigFileCredentials(t *testing.T) {
	hub := hubtest.New(t)
	hub.AddScene("S2A_20240603", "2024-06-03T10:36:14Z", 5)
	input, output := setupEnv(t, hub)
	t.Setenv("SH_CLIENT_ID", "")
	t.Setenv("SH_CLIENT_SECRET", "")

	credentials := filepath.Join(t.TempDir(), "sh.yaml")
	content := strings.Join([]string{
		"sh_client_id: file-id",
		"sh_client_secret: file-secret",
	}, "\n")
	require.NoError(t, os.WriteFile(credentials, []byte(content), 0o600))

	var out bytes.Buffer
	code := execute(context.Background(), args("fetch", input, output, "--config", credentials), &out, &out)
	require.Equal(t, exitOK, code, out.String())
	assert.Equal(t, 1, hub.TokenCalls())
}
