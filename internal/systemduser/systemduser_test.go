package systemduser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeSystemctl installs a shell script that records its arguments and exits
// with $FAKE_SYSTEMCTL_EXIT.
func fakeSystemctl(t *testing.T) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> '" + logPath + "'\n" +
		"echo \"${FAKE_SYSTEMCTL_OUTPUT:-}\"\n" +
		"exit ${FAKE_SYSTEMCTL_EXIT:-0}\n"
	bin := filepath.Join(dir, "systemctl")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake systemctl: %v", err)
	}
	return &Client{bin: bin}, logPath
}

func readCalls(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read calls: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestNewClient(t *testing.T) {
	c := NewClient()
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
	if c.bin != "systemctl" {
		t.Errorf("expected systemctl binary, got %q", c.bin)
	}
}

func TestClient_Commands(t *testing.T) {
	c, logPath := fakeSystemctl(t)
	ctx := context.Background()

	if err := c.DaemonReload(ctx); err != nil {
		t.Fatalf("DaemonReload() error: %v", err)
	}
	if err := c.EnableNow(ctx, UnitName); err != nil {
		t.Fatalf("EnableNow() error: %v", err)
	}

	want := []string{"--user daemon-reload", "--user enable --now git-auto-sync.service"}
	got := readCalls(t, logPath)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestClient_CommandFailure(t *testing.T) {
	c, _ := fakeSystemctl(t)
	t.Setenv("FAKE_SYSTEMCTL_EXIT", "1")
	t.Setenv("FAKE_SYSTEMCTL_OUTPUT", "Failed to connect to bus")

	err := c.EnableNow(context.Background(), UnitName)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Failed to connect to bus") {
		t.Errorf("expected systemctl output in error, got %v", err)
	}
}

func TestClient_IsAvailable(t *testing.T) {
	tests := []struct {
		exit    string
		want    bool
		wantErr bool
	}{
		{exit: "0", want: true},
		{exit: "1", want: true},
		{exit: "3", want: true},
		{exit: "4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("exit "+tt.exit, func(t *testing.T) {
			c, _ := fakeSystemctl(t)
			t.Setenv("FAKE_SYSTEMCTL_EXIT", tt.exit)

			got, err := c.IsAvailable(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsAvailable() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsAvailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_IsAvailable_MissingBinary(t *testing.T) {
	c := &Client{bin: filepath.Join(t.TempDir(), "missing")}
	if ok, err := c.IsAvailable(context.Background()); ok || err == nil {
		t.Errorf("IsAvailable() = %v, %v; want false with error", ok, err)
	}
}

func TestClient_IsActive(t *testing.T) {
	c, _ := fakeSystemctl(t)
	t.Setenv("FAKE_SYSTEMCTL_EXIT", "3")
	t.Setenv("FAKE_SYSTEMCTL_OUTPUT", "inactive")

	status, err := c.IsActive(context.Background(), UnitName)
	if err != nil {
		t.Fatalf("IsActive() error: %v", err)
	}
	if status != "inactive" {
		t.Errorf("IsActive() = %q, want inactive", status)
	}
}

func TestUnit_Render(t *testing.T) {
	u := Unit{
		Executable: "/usr/local/bin/git-auto-sync",
		ConfigPath: "/home/me/My Notes/git-auto-sync.toml",
		RepoPath:   "/home/me/notes",
	}
	content, err := u.Render()
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	for _, want := range []string{
		"Description=git-auto-sync for /home/me/notes\n",
		`ExecStart=/usr/local/bin/git-auto-sync --config "/home/me/My Notes/git-auto-sync.toml"` + "\n",
		"WantedBy=default.target\n",
		"Restart=on-failure\n",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("unit missing %q:\n%s", want, content)
		}
	}
}

func TestUnit_RenderWithoutConfig(t *testing.T) {
	content, err := Unit{Executable: "/opt/gas/git-auto-sync"}.Render()
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(content, "ExecStart=/opt/gas/git-auto-sync\n") {
		t.Errorf("unexpected ExecStart in:\n%s", content)
	}
}

func TestQuoteArg(t *testing.T) {
	tests := map[string]string{
		"plain":      "plain",
		"with space": `"with space"`,
		`a"b`:        `"a\"b"`,
		`c:\dir`:     `"c:\\dir"`,
		"":           `""`,
	}
	for in, want := range tests {
		if got := quoteArg(in); got != want {
			t.Errorf("quoteArg(%q) = %q, want %q", in, got, want)
		}
	}
}

type recordingSystemd struct {
	available bool
	reloadErr error
	calls     []string
}

func (r *recordingSystemd) IsAvailable(context.Context) (bool, error) {
	if !r.available {
		return false, errors.New("no bus")
	}
	return true, nil
}

func (r *recordingSystemd) DaemonReload(context.Context) error {
	r.calls = append(r.calls, "daemon-reload")
	return r.reloadErr
}

func (r *recordingSystemd) EnableNow(_ context.Context, unit string) error {
	r.calls = append(r.calls, "enable "+unit)
	return nil
}

func (r *recordingSystemd) IsActive(context.Context, string) (string, error) {
	return "active", nil
}

func TestInstall(t *testing.T) {
	sd := &recordingSystemd{available: true}
	path := filepath.Join(t.TempDir(), "systemd", "user", UnitName)

	if err := Install(context.Background(), sd, path, "[Unit]\n"); err != nil {
		t.Fatalf("Install() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	if string(data) != "[Unit]\n" {
		t.Errorf("unit content = %q", data)
	}
	if strings.Join(sd.calls, ",") != "daemon-reload,enable git-auto-sync.service" {
		t.Errorf("unexpected calls %v", sd.calls)
	}
}

func TestInstall_Unavailable(t *testing.T) {
	sd := &recordingSystemd{}
	path := filepath.Join(t.TempDir(), UnitName)

	if err := Install(context.Background(), sd, path, "[Unit]\n"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("unit should not be written without systemd")
	}
}

func TestInstall_ReloadFailure(t *testing.T) {
	sd := &recordingSystemd{available: true, reloadErr: errors.New("reload failed")}
	path := filepath.Join(t.TempDir(), UnitName)

	if err := Install(context.Background(), sd, path, "[Unit]\n"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(sd.calls) != 1 {
		t.Errorf("expected enable to be skipped, got %v", sd.calls)
	}
}
