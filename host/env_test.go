package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sorane/libretto/manifest"
	"github.com/sorane/libretto/vm"
)

// testProject lays out a small script project on disk and returns its Env.
func testProject(t *testing.T, withCache bool) *Env {
	t.Helper()
	dir := t.TempDir()

	toml := `
[project]
name = "test"

[source]
dirs = ["scenario"]
entry = "main"

[aliases]
finale = "endings/true-end"
`
	if withCache {
		toml += "\n[cache]\npath = \"cache.db\"\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "libretto.toml"), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	scripts := map[string]string{
		"main.adv":             "The story begins.\nrin + stage-left\n* loop\nonwards",
		"town.adv":             "Welcome to town.",
		"endings/true-end.adv": "* credits\nThe end.",
	}
	for rel, content := range scripts {
		full := filepath.Join(dir, "scenario", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	env, err := NewEnv(m)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestLoadModule(t *testing.T) {
	env := testProject(t, false)
	ctx := context.Background()

	mod, err := env.LoadModule(ctx, "town", "main.adv")
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if mod.Path() != "town.adv" {
		t.Errorf("path = %q, want town.adv", mod.Path())
	}
	if len(mod.Program()) != 1 {
		t.Errorf("program = %d instructions, want 1", len(mod.Program()))
	}
}

func TestLoadModuleAlias(t *testing.T) {
	env := testProject(t, false)

	mod, err := env.LoadModule(context.Background(), "finale", "main.adv")
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if mod.Path() != "endings/true-end.adv" {
		t.Errorf("path = %q, want endings/true-end.adv", mod.Path())
	}
}

func TestLoadModuleMissing(t *testing.T) {
	env := testProject(t, false)
	if _, err := env.LoadModule(context.Background(), "ghost", ""); err == nil {
		t.Error("loading a missing script should fail")
	}
}

func TestLoadModuleCancelled(t *testing.T) {
	env := testProject(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.LoadModule(ctx, "town", ""); err == nil {
		t.Error("cancelled context should abort the load")
	}
}

func TestModulePathEquals(t *testing.T) {
	env := testProject(t, false)
	ctx := context.Background()

	equal, err := env.ModulePathEquals(ctx, "main", "main.adv")
	if err != nil {
		t.Fatal(err)
	}
	if !equal {
		t.Error("main should equal main.adv")
	}

	equal, err = env.ModulePathEquals(ctx, "town", "main.adv")
	if err != nil {
		t.Fatal(err)
	}
	if equal {
		t.Error("town should not equal main.adv")
	}
}

func TestLoadModuleCaches(t *testing.T) {
	env := testProject(t, true)
	ctx := context.Background()

	first, err := env.LoadModule(ctx, "town", "")
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	second, err := env.LoadModule(ctx, "town", "")
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}

	if len(first.Program()) != len(second.Program()) {
		t.Error("cached program differs from compiled program")
	}
}

func TestNewVMRunsEntry(t *testing.T) {
	env := testProject(t, false)
	ctx := context.Background()

	v, err := env.NewVM(ctx, nil)
	if err != nil {
		t.Fatalf("NewVM failed: %v", err)
	}

	out, err := v.NextOutput(ctx, nil)
	if err != nil {
		t.Fatalf("NextOutput failed: %v", err)
	}
	pause, ok := out.Pause.(*vm.AsidePause)
	if !ok {
		t.Fatalf("pause is %T, want AsidePause", out.Pause)
	}
	if pause.Text != "The story begins." {
		t.Errorf("aside = %q", pause.Text)
	}
	if out.RoleOperation != nil {
		t.Error("role operation belongs to the next step")
	}

	out, err = v.NextOutput(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.RoleOperation == nil || out.RoleOperation.RoleName != "rin" {
		t.Error("second step should carry the role operation")
	}
}
