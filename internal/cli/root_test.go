package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cube-duel/internal/api"
	"github.com/park285/cube-duel/internal/round"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"scramble"}, {"apply"}, {"stats"}, {"watch"},
		{"round", "create"}, {"round", "join"}, {"round", "submit"}, {"round", "reset"},
		{"round", "close"}, {"round", "delete"}, {"round", "get"}, {"round", "active"},
		{"round", "list"}, {"round", "solves"},
	} {
		t.Run(strings.Join(path, "_"), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	f := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, f)
	assert.Equal(t, "text", f.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("api"))
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := run(t, "--format", "xml", "scramble")
	assert.Error(t, err)
}

func TestScrambleJSON(t *testing.T) {
	out, _, err := run(t, "--format", "json", "scramble", "-n", "20", "-c", "3")
	require.NoError(t, err)
	var resp struct {
		Status string   `json:"status"`
		Data   []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 3)
	for _, s := range resp.Data {
		assert.Len(t, strings.Fields(s), 20)
	}
}

func TestApplyText(t *testing.T) {
	out, _, err := run(t, "apply", "R", "R'")
	require.NoError(t, err)
	assert.Contains(t, out, "U  WWW WWW WWW")
	assert.Contains(t, out, "B  BBB BBB BBB")
}

func TestApplyStrictRejectsToken(t *testing.T) {
	_, stderr, err := run(t, "apply", "--strict", "R X")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stderr, "invalid_argument")
}

func startServer(t *testing.T) string {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := round.OpenRedis(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	srv := api.NewServer(round.NewManager(store), store)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts.URL
}

func TestRoundFlowAgainstServer(t *testing.T) {
	base := startServer(t)

	out, _, err := run(t, "--api", base, "--format", "json", "round", "create", "--pair", "p1", "--user", "A")
	require.NoError(t, err)
	var created struct {
		Data round.Round `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	id := created.Data.ID
	require.NotEmpty(t, id)

	_, _, err = run(t, "--api", base, "round", "join", id, "--user", "B")
	require.NoError(t, err)
	_, _, err = run(t, "--api", base, "round", "submit", id, "--user", "A", "--time", "11.5s")
	require.NoError(t, err)
	out, _, err = run(t, "--api", base, "round", "submit", id, "--user", "B", "--time", "9.8s")
	require.NoError(t, err)
	assert.Contains(t, out, "round closed")

	out, _, err = run(t, "--api", base, "round", "solves", id)
	require.NoError(t, err)
	assert.Contains(t, out, "A  11.500s")
	assert.Contains(t, out, "B  9.800s")

	out, _, err = run(t, "--api", base, "stats", "--pair", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "B wins=1 best=9.800s")
	assert.Contains(t, out, "streak B x1")

	out, _, err = run(t, "--api", base, "round", "active", "--pair", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "no active round")
}

func TestRoundNotFoundExitCode(t *testing.T) {
	base := startServer(t)
	_, stderr, err := run(t, "--api", base, "round", "get", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "not_found")
}

func TestWatchPrintsSnapshot(t *testing.T) {
	base := startServer(t)
	out, _, err := run(t, "--api", base, "round", "create", "--pair", "p2", "--user", "A", "--mode", "async")
	require.NoError(t, err)
	require.Contains(t, out, "mode: async")

	out, _, err = run(t, "--api", base, "watch", "--pair", "p2", "--for", "200ms")
	require.NoError(t, err)
	assert.Contains(t, out, "p2")
	assert.Contains(t, out, "in_progress")
}

func TestWatchPollIntervalFromConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CUBE_DUEL_CONFIG", "")
	t.Setenv("POLL_INTERVAL", "750ms")
	opts := &RootOptions{}

	got, err := opts.pollInterval(0)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, got)

	got, err = opts.pollInterval(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, got)

	t.Setenv("POLL_INTERVAL", "never")
	_, err = opts.pollInterval(0)
	assert.ErrorContains(t, err, "POLL_INTERVAL")
}
