package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"modelgate/internal/config"
	"modelgate/internal/privacy"
)

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestBackendsCommand(t *testing.T) {
	out := runRoot(t, "backends")
	for _, want := range []string{"ollama", "openai", "llamacpp"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	if out := runRoot(t, "version"); strings.TrimSpace(out) != "modelgate dev" {
		t.Fatalf("version output %q", out)
	}
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	cmd := newServeCmd()
	f := serveFlags{envFile: filepath.Join(t.TempDir(), "missing.env")}
	if err := cmd.Flags().Parse([]string{"--addr", "127.0.0.1:9999", "--storage", "memory", "--cors-origins", "http://a, http://b", "--allowed-hosts", "gpu.lan"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	f.addr, f.storage = "127.0.0.1:9999", "memory"
	f.corsOrigins, f.allowedHosts = "http://a, http://b", "gpu.lan"

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" || cfg.Storage.Type != "memory" {
		t.Fatalf("flags not applied: %+v %+v", cfg.Server, cfg.Storage)
	}
	if !cfg.Server.CORSEnabled || len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b" {
		t.Fatalf("cors: %+v", cfg.Server)
	}
	if hosts := cfg.Privacy.AllowedHosts; len(hosts) == 0 || hosts[len(hosts)-1] != "gpu.lan" {
		t.Fatalf("allowed hosts: %v", hosts)
	}
}

func TestServeRejectsBadStorageFlag(t *testing.T) {
	cmd := newServeCmd()
	if err := cmd.Flags().Parse([]string{"--storage", "etcd"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := loadConfig(cmd, serveFlags{storage: "etcd"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoggerAnonymizes(t *testing.T) {
	var buf bytes.Buffer
	enf := privacy.New(privacy.Config{AnonymizeLogs: true})
	log := newLogger(config.Log{Level: "info", Format: "json"}, enf, &buf)
	log.Info().Str("backend", "http://10.20.30.40:11434").Msg("dial failed")
	if strings.Contains(buf.String(), "10.20.30.40") {
		t.Fatalf("address leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "dial failed") {
		t.Fatalf("message dropped: %s", buf.String())
	}
}
