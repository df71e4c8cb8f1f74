// Copyright (c) 2026 Cartbridge Team
// Cartbridge - smart cart payment status bridge
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"
)

// isolate keeps config discovery away from the developer's real files.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", filepath.Join(dir, "home"))
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CARTBRIDGE_") {
			t.Setenv(strings.SplitN(e, "=", 2)[0], "")
			_ = os.Unsetenv(strings.SplitN(e, "=", 2)[0])
		}
	}
	t.Chdir(dir)
	return dir
}

// execute runs a fresh command tree and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), stdin, args...)
}

func executeContext(ctx context.Context, stdin string, args ...string) (string, error) {
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--log.format", "json"))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// dbArgs points a command at a throwaway sqlite file.
func dbArgs(dir string) []string {
	return []string{"--database.type", "sqlite", "--database.dsn", filepath.Join(dir, "cartbridge.db")}
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, "", args...)
	if err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	return out
}

func TestStatusLifecycle(t *testing.T) {
	dir := isolate(t)
	db := dbArgs(dir)

	out := mustExecute(t, append([]string{"status", "set", "TAG-001", "unpaid"}, db...)...)
	if !strings.Contains(out, "TAG-001 set to not_paid (code 0)") {
		t.Fatalf("unexpected set output: %q", out)
	}
	mustExecute(t, append([]string{"status", "set", "TAG-002", "paid"}, db...)...)

	for tag, want := range map[string]string{
		"TAG-001": "TAG-001: not_paid (buzz=true)",
		"TAG-002": "TAG-002: paid (buzz=false)",
		"TAG-999": "TAG-999: not found (buzz=true)",
	} {
		out := mustExecute(t, append([]string{"status", "get", tag}, db...)...)
		if !strings.Contains(out, want) {
			t.Fatalf("get %s: got %q want %q", tag, out, want)
		}
	}

	out = mustExecute(t, append([]string{"status", "list"}, db...)...)
	if !strings.Contains(out, "TAG-001") || !strings.Contains(out, "TAG-002") || !strings.Contains(out, "TAG") {
		t.Fatalf("unexpected list output: %q", out)
	}

	mustExecute(t, append([]string{"status", "delete", "TAG-001"}, db...)...)
	if _, err := execute(t, "", append([]string{"status", "delete", "TAG-001"}, db...)...); err == nil {
		t.Fatalf("expected error deleting a missing tag")
	}
}

func TestStatusSet_InvalidStatus(t *testing.T) {
	dir := isolate(t)
	if _, err := execute(t, "", append([]string{"status", "set", "TAG-001", "maybe"}, dbArgs(dir)...)...); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}

func TestStatusExportImport(t *testing.T) {
	dir := isolate(t)
	src := dbArgs(dir)
	dst := []string{"--database.type", "sqlite", "--database.dsn", filepath.Join(dir, "restored.db")}
	snapshot := filepath.Join(dir, "backup", "payments.zst")

	mustExecute(t, append([]string{"status", "set", "TAG-002", "1"}, src...)...)
	out := mustExecute(t, append([]string{"status", "export", "-o", snapshot}, src...)...)
	if !strings.Contains(out, "Exported 1 records") {
		t.Fatalf("unexpected export output: %q", out)
	}

	mustExecute(t, append([]string{"status", "set", "TAG-EXTRA", "paid"}, dst...)...)
	if _, err := execute(t, "no\n", append([]string{"status", "import", "--replace", snapshot}, dst...)...); err == nil {
		t.Fatalf("expected import to abort without confirmation")
	}
	out, err := execute(t, "yes\n", append([]string{"status", "import", "--replace", snapshot}, dst...)...)
	if err != nil || !strings.Contains(out, "Imported 1 records") {
		t.Fatalf("import: %q %v", out, err)
	}

	out = mustExecute(t, append([]string{"status", "get", "TAG-EXTRA"}, dst...)...)
	if !strings.Contains(out, "not found") {
		t.Fatalf("replace import should drop TAG-EXTRA: %q", out)
	}
	out = mustExecute(t, append([]string{"status", "get", "TAG-002"}, dst...)...)
	if !strings.Contains(out, "paid (buzz=false)") {
		t.Fatalf("unexpected restored status: %q", out)
	}
}

func TestMigrateAndMaintain(t *testing.T) {
	dir := isolate(t)
	out := mustExecute(t, append([]string{"migrate"}, dbArgs(dir)...)...)
	if !strings.Contains(out, "Migrations applied to sqlite database") {
		t.Fatalf("unexpected migrate output: %q", out)
	}
	// Running again must be a no-op.
	mustExecute(t, append([]string{"migrate"}, dbArgs(dir)...)...)

	out = mustExecute(t, append([]string{"maintain", "--timeout", "30"}, dbArgs(dir)...)...)
	if !strings.Contains(out, "Maintenance completed successfully") {
		t.Fatalf("unexpected maintain output: %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "etc", "cartbridge.yaml")

	mustExecute(t, "config", "init", "--path", path,
		"--broker.url", "ssl://broker.example:8883",
		"--broker.password", "s3cret",
		"--bridge.on_store_error", "drop")
	if _, err := execute(t, "", "config", "init", "--path", path); err == nil {
		t.Fatalf("expected refusal to overwrite without --force")
	}

	out := mustExecute(t, "config", "show", "--config", path)
	if !strings.Contains(out, "ssl://broker.example:8883") || !strings.Contains(out, "on_store_error: drop") {
		t.Fatalf("config file values not loaded: %q", out)
	}
	if strings.Contains(out, "s3cret") {
		t.Fatalf("password must be redacted: %q", out)
	}

	// Environment beats the file.
	t.Setenv("CARTBRIDGE_BRIDGE_ON_STORE_ERROR", "buzz")
	out = mustExecute(t, "config", "show", "--config", path)
	if !strings.Contains(out, "on_store_error: buzz") {
		t.Fatalf("env override not applied: %q", out)
	}
}

func TestInvalidConfigIsRejected(t *testing.T) {
	isolate(t)
	if _, err := execute(t, "", "config", "show", "--broker.transport", "carrier-pigeon"); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := execute(t, "", "config", "show", "--config", "/nonexistent/cartbridge.yaml"); err == nil {
		t.Fatalf("expected error for missing --config file")
	}
}

func TestDebugRedactsPassword(t *testing.T) {
	isolate(t)
	out := mustExecute(t, "debug", "--broker.password", "hunter2")
	if strings.Contains(out, "hunter2") {
		t.Fatalf("debug output leaked password: %q", out)
	}
	if !strings.Contains(out, "--- CARTBRIDGE DEBUG ---") {
		t.Fatalf("unexpected debug output: %q", out)
	}
}

func TestVersion(t *testing.T) {
	out := mustExecute(t, "version")
	if !strings.Contains(out, "version: ") || !strings.Contains(out, "commit: ") {
		t.Fatalf("unexpected version output: %q", out)
	}
}

func TestResolveBuildVersion(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	}
	v, c, d := resolveBuildVersion(info)
	if v != "v1.2.3" || c != "abc123" || d != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected build version %q %q %q", v, c, d)
	}
	if got := composeVersion(v, c, d); got != "v1.2.3 (abc123) built: 2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected composed version %q", got)
	}
	if got := composeVersion("dev", "dev", ""); got != "dev" {
		t.Fatalf("unexpected dev version %q", got)
	}
}
