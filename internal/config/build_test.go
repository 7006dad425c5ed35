package config

import "testing"

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()

	want := BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"}
	if info != want {
		t.Errorf("NewBuildInfo() = %+v, want %+v", info, want)
	}
}

// injectBuild stands in for -ldflags -X and restores the defaults afterwards.
func injectBuild(t *testing.T, v, c, bt string) {
	t.Helper()
	oldV, oldC, oldBT := version, commit, buildTime
	version, commit, buildTime = v, c, bt
	t.Cleanup(func() { version, commit, buildTime = oldV, oldC, oldBT })
}

func TestLoadConfigCarriesInjectedBuild(t *testing.T) {
	setFullTestEnv(t)
	injectBuild(t, "1.4.0", "a1b2c3d", "2026-05-10T12:00:00Z")

	cfg, err := loadConfigWithDeps(NewEnvVarProvider(), testDeps(t))
	if err != nil {
		t.Fatalf("loadConfigWithDeps: %v", err)
	}

	if cfg.Build.Version != "1.4.0" {
		t.Errorf("Build.Version = %q, want 1.4.0", cfg.Build.Version)
	}
	if cfg.Build.Commit != "a1b2c3d" {
		t.Errorf("Build.Commit = %q, want a1b2c3d", cfg.Build.Commit)
	}
	if cfg.Build.BuildTime != "2026-05-10T12:00:00Z" {
		t.Errorf("Build.BuildTime = %q", cfg.Build.BuildTime)
	}
}
