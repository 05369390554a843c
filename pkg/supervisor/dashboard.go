package supervisor

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// defaultLogTailLines is how many lines /api/logs returns when the
// caller does not say.
const defaultLogTailLines = 100

// Dashboard is the supervisor's REST surface.
type Dashboard struct {
	sup    *Supervisor
	logDir string
	logger *slog.Logger
}

// NewDashboard creates the REST surface over a supervisor. logDir is the
// directory log tails are confined to.
func NewDashboard(sup *Supervisor, logDir string) *Dashboard {
	return &Dashboard{
		sup:    sup,
		logDir: logDir,
		logger: slog.Default().With("component", "dashboard"),
	}
}

// Router builds the gin router.
func (d *Dashboard) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/status", d.status)
	api.POST("/process/:name/:action", d.processAction)
	api.POST("/deploy", d.deploy)
	api.POST("/supervisor/restart", d.supervisorRestart)
	api.GET("/logs/:name", d.logs)
	return r
}

// Serve runs the dashboard until the listener fails.
func (d *Dashboard) Serve(addr string) error {
	return d.Router().Run(addr)
}

func (d *Dashboard) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"processes":       d.sup.Statuses(),
		"deploy_state":    d.sup.Deployer().State(),
		"active_sessions": d.sup.ActiveAgentSessions(),
	})
}

func (d *Dashboard) processAction(c *gin.Context) {
	name := c.Param("name")
	p := d.sup.Process(name)
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown process %q", name)})
		return
	}

	var err error
	action := c.Param("action")
	switch action {
	case "start":
		err = p.Start()
	case "stop":
		err = p.Stop()
	case "restart":
		err = p.Restart()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown action %q", action)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	d.logger.Info("Process action", "process", name, "action", action)
	c.JSON(http.StatusOK, p.Status())
}

func (d *Dashboard) deploy(c *gin.Context) {
	d.sup.TriggerDeploy(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"deploy_state": d.sup.Deployer().State()})
}

func (d *Dashboard) supervisorRestart(c *gin.Context) {
	force := c.Query("force") == "true"
	if err := d.sup.RequestRestart(force); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "restarting"})
}

func (d *Dashboard) logs(c *gin.Context) {
	name := c.Param("name")
	lines := defaultLogTailLines
	if raw := c.Query("lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			lines = n
		}
	}

	path, err := d.logPath(name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tail, err := tailFile(path, lines)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, tail)
}

// logPath resolves a log name to a file strictly inside the log dir.
func (d *Dashboard) logPath(name string) (string, error) {
	if d.logDir == "" {
		return "", fmt.Errorf("no log directory configured")
	}
	base, err := filepath.Abs(d.logDir)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(base, filepath.Clean("/"+name)+".log"))
	if err != nil {
		return "", err
	}
	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("log name %q escapes the log directory", name)
	}
	return path, nil
}

func tailFile(path string, lines int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading log: %w", err)
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n") + "\n", nil
}
