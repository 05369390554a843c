package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDashboard(t *testing.T) (*Dashboard, *Supervisor, string) {
	t.Helper()
	logDir := t.TempDir()
	sup := New(Config{
		Processes: []ProcessConfig{{
			Name:    "bot",
			Command: "/bin/sleep",
			Args:    []string{"60"},
			LogDir:  logDir,
		}},
	})
	sup.sessionsCounter = func() int { return 0 }
	sup.git.run = func(context.Context, string, ...string) (string, error) { return "", nil }
	return NewDashboard(sup, logDir), sup, logDir
}

func doRequest(t *testing.T, d *Dashboard, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)
	return rec
}

func TestDashboard_Status(t *testing.T) {
	d, _, _ := newTestDashboard(t)

	rec := doRequest(t, d, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Processes      []ProcessStatus `json:"processes"`
		DeployState    string          `json:"deploy_state"`
		ActiveSessions int             `json:"active_sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Processes, 1)
	assert.Equal(t, "bot", body.Processes[0].Name)
	assert.Equal(t, StatusStopped, body.Processes[0].Status)
	assert.Equal(t, DeployIdle, body.DeployState)
	assert.Zero(t, body.ActiveSessions)
}

func TestDashboard_ProcessActions(t *testing.T) {
	d, sup, _ := newTestDashboard(t)
	defer sup.StopAll()

	rec := doRequest(t, d, http.MethodPost, "/api/process/bot/start")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sup.Process("bot").Running())

	rec = doRequest(t, d, http.MethodPost, "/api/process/bot/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sup.Process("bot").Running())

	t.Run("unknown process", func(t *testing.T) {
		rec := doRequest(t, d, http.MethodPost, "/api/process/nope/start")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		rec := doRequest(t, d, http.MethodPost, "/api/process/bot/explode")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDashboard_DeployArmsDeployer(t *testing.T) {
	d, sup, _ := newTestDashboard(t)

	rec := doRequest(t, d, http.MethodPost, "/api/deploy")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, DeployPending, sup.Deployer().State())
}

func TestDashboard_SupervisorRestart(t *testing.T) {
	d, sup, _ := newTestDashboard(t)

	rec := doRequest(t, d, http.MethodPost, "/api/supervisor/restart")
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Second request inside the cooldown window is refused.
	rec = doRequest(t, d, http.MethodPost, "/api/supervisor/restart?force=true")
	assert.Equal(t, http.StatusConflict, rec.Code)

	select {
	case code := <-sup.restartRequest:
		assert.Equal(t, ExitRestart, code)
	default:
		t.Fatal("expected a queued restart request")
	}
}

func TestDashboard_LogsTail(t *testing.T) {
	d, _, logDir := newTestDashboard(t)
	lines := []string{"one", "two", "three", "four"}
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "bot.log"),
		[]byte(strings.Join(lines, "\n")+"\n"), 0o644))

	rec := doRequest(t, d, http.MethodGet, "/api/logs/bot?lines=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "three\nfour\n", rec.Body.String())

	t.Run("missing log", func(t *testing.T) {
		rec := doRequest(t, d, http.MethodGet, "/api/logs/ghost")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDashboard_LogPathConfinement(t *testing.T) {
	d, _, logDir := newTestDashboard(t)

	path, err := d.logPath("../../etc/passwd")
	require.NoError(t, err)
	base, _ := filepath.Abs(logDir)
	assert.True(t, strings.HasPrefix(path, base+string(filepath.Separator)),
		"traversal must stay inside the log dir, got %s", path)
}
