package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/samber/do"
	"go.uber.org/zap"

	"fastsd/core"
	"fastsd/history"
	"fastsd/session"
	"fastsd/settings"
	"fastsd/shutdown"
	"fastsd/webui"
	"fastsd/webui/auth"
)

func init() {
	color.NoColor = true
}

func TestHashPasswordCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		stdin    string
		password string
		wantCode int
	}{
		{name: "argument", args: []string{"s3cret"}, password: "s3cret"},
		{name: "stdin", stdin: "from-stdin\r\n", password: "from-stdin"},
		{name: "empty", stdin: "\n", wantCode: core.ExitCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := hashPasswordCommand(tt.args, strings.NewReader(tt.stdin), &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d (stderr %q)", code, tt.wantCode, stderr.String())
			}
			if tt.wantCode != core.ExitCodeSuccess {
				return
			}
			hash := strings.TrimSpace(stdout.String())
			if err := auth.VerifyPassword(tt.password, hash); err != nil {
				t.Errorf("VerifyPassword() error = %v", err)
			}
		})
	}
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		args     []string
		wantCode int
		wantOut  string
	}{
		{args: []string{"version"}, wantOut: core.AppName},
		{args: []string{"help"}, wantOut: "hash-password"},
		{args: []string{"bogus"}, wantCode: core.ExitCodeError},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, strings.NewReader(""), &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("code = %d, want %d", code, tt.wantCode)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestIsServiceAction(t *testing.T) {
	for _, a := range []string{"install", "uninstall", "start", "stop"} {
		if !isServiceAction(a) {
			t.Errorf("isServiceAction(%q) = false", a)
		}
	}
	if isServiceAction("restart") {
		t.Error("isServiceAction(restart) = true")
	}
}

// testConfig writes a settings file pointing results into a temp dir.
func testConfig(t *testing.T, surface core.Surface) (*core.Config, string) {
	t.Helper()
	t.Setenv("SD_ENGINE", "")

	dir := t.TempDir()
	results := filepath.Join(dir, "results")
	settingsPath := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(settingsPath, []byte("results_path: "+results+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	return &core.Config{
		SettingsPath:       settingsPath,
		Surface:            surface,
		Pipeline:           core.PipelineLocal,
		DispatchPolicy:     session.PolicyLatestWins,
		WebUIHost:          "127.0.0.1",
		WebUIPort:          7860,
		HistoryDBPath:      filepath.Join(dir, "history.db"),
		AcceleratedModelID: session.DefaultAcceleratedModelID,
		ShutdownTimeout:    10 * time.Second,
	}, results
}

func TestApplication_ConsoleGeneratesAndShutsDown(t *testing.T) {
	cfg, results := testConfig(t, core.SurfaceConsole)
	var out bytes.Buffer

	app := newApplication(cfg, zap.NewNop(), strings.NewReader("a red fox\n"), &out,
		shutdown.WithForceExit(func(int) {}))
	if err := app.run(); err != nil {
		t.Fatalf("run() error = %v\noutput:\n%s", err, out.String())
	}
	if code := app.exitCode(nil); code != core.ExitCodeSuccess {
		t.Errorf("exitCode = %d", code)
	}

	if !strings.Contains(out.String(), "Done in") {
		t.Errorf("output missing result:\n%s", out.String())
	}
	pngs, _ := filepath.Glob(filepath.Join(results, "*.png"))
	if len(pngs) != 1 {
		t.Errorf("saved images = %v, want 1", pngs)
	}

	saved, err := settings.NewStore(cfg.SettingsPath).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved.LCMDiffusionSetting.Prompt != "a red fox" {
		t.Errorf("saved prompt = %q, want the last prompt", saved.LCMDiffusionSetting.Prompt)
	}

	db, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	defer db.Close()
	recs, err := history.NewRepository(db, nil).Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Prompt != "a red fox" {
		t.Errorf("history = %+v, want one record for the prompt", recs)
	}
}

func TestApplication_WebGraph(t *testing.T) {
	cfg, _ := testConfig(t, core.SurfaceWeb)
	app := newApplication(cfg, zap.NewNop(), strings.NewReader(""), &bytes.Buffer{},
		shutdown.WithForceExit(func(int) {}))

	srv := do.MustInvoke[*webui.Server](app.injector)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("GET /metrics = %d", rec.Code)
	}

	want := []string{"web", "dispatcher", "settings", "history", "pipeline", "settings-temp-files"}
	if got := app.mgr.RegisteredHandlers(); !slices.Equal(got, want) {
		t.Errorf("shutdown order = %v, want %v", got, want)
	}

	if err := app.mgr.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := os.Stat(cfg.SettingsPath); err != nil {
		t.Errorf("settings not saved: %v", err)
	}
}

func TestApplication_WebWithPassword(t *testing.T) {
	cfg, _ := testConfig(t, core.SurfaceWeb)
	hash, err := auth.HashPasswordWithCost("pw", auth.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg.WebUIPasswordHash = hash

	app := newApplication(cfg, zap.NewNop(), strings.NewReader(""), &bytes.Buffer{},
		shutdown.WithForceExit(func(int) {}))
	defer app.mgr.Shutdown()
	srv := do.MustInvoke[*webui.Server](app.injector)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without credentials = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with credentials = %d, want 200", rec.Code)
	}
}
