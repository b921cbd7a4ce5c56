package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeSimModel writes a manifest with one 12-byte input and one output of
// four float32 values, plus an input whose largest byte is the last one.
func writeSimModel(t *testing.T) (modelPath, inputPath string) {
	t.Helper()
	dir := t.TempDir()
	modelPath = filepath.Join(dir, "model.yaml")
	manifest := "work_size: 64\nweight_size: 128\ninputs: [12]\noutputs: [16]\n"
	if err := os.WriteFile(modelPath, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	inputPath = filepath.Join(dir, "in.bin")
	in := make([]byte, 12)
	for i := range in {
		in[i] = byte(10 * (i + 1))
	}
	if err := os.WriteFile(inputPath, in, 0o644); err != nil {
		t.Fatal(err)
	}
	return modelPath, inputPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRootCmd(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestRunSimBackend(t *testing.T) {
	for _, mode := range []string{"host", "device"} {
		t.Run(mode, func(t *testing.T) {
			m, in := writeSimModel(t)
			out, err := execute(t, "run", "--backend", "sim", "--sim-run-mode", mode,
				"--model", m, "--input", in, "--top-k", "2")
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			// 40/255 at index 3, then 30/255 at index 2
			for _, want := range []string{"RANK", in, "0.156863", "0.117647"} {
				if !strings.Contains(out, want) {
					t.Fatalf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestRunFromConfigFile(t *testing.T) {
	m, in := writeSimModel(t)
	dump := filepath.Join(t.TempDir(), "dump")
	cfg := filepath.Join(t.TempDir(), "omrun.toml")
	body := "backend = \"sim\"\nmodel = \"" + m + "\"\ninputs = [\"" + in + "\"]\ntop_k = 1\n"
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "run", "--config", cfg, "--dump", dump)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out, "0.117647") {
		t.Fatalf("top_k=1 printed a second entry:\n%s", out)
	}
	files, err := filepath.Glob(filepath.Join(dump, "*.bin"))
	if err != nil || len(files) != 1 {
		t.Fatalf("dump files = %v, %v; want 1", files, err)
	}
}

func TestInspectSimBackend(t *testing.T) {
	m, _ := writeSimModel(t)
	out, err := execute(t, "inspect", "--backend", "sim", "--model", m)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"work:   64 bytes", "weight: 128 bytes", "input", "output", "16"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandErrors(t *testing.T) {
	m, in := writeSimModel(t)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no model", []string{"run", "--backend", "sim", "--input", in}, "no model"},
		{"no inputs", []string{"run", "--backend", "sim", "--model", m}, "no inputs"},
		{"unknown backend", []string{"inspect", "--backend", "nope", "--model", m}, "unknown backend"},
		{"bad dtype", []string{"run", "--backend", "sim", "--model", m, "--input", in, "--dtype", "int8"}, "int8"},
		{"bad run mode", []string{"inspect", "--backend", "sim", "--sim-run-mode", "both", "--model", m}, "sim_run_mode"},
		{"missing config", []string{"inspect", "--config", filepath.Join(t.TempDir(), "none.yaml")}, "load config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tc.want)
			}
		})
	}
}

func TestVersionListsBackends(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	for _, want := range []string{"omrun dev", "sim", "ort", "acl"} {
		if !strings.Contains(out, want) {
			t.Fatalf("version output %q missing %q", out, want)
		}
	}
}

func TestRunNoRank(t *testing.T) {
	m, in := writeSimModel(t)
	out, err := execute(t, "run", "--backend", "sim", "--model", m, "--input", in,
		"--top-k", "2", "--no-rank")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(out, "0.156863") {
		t.Fatalf("--no-rank still ranked:\n%s", out)
	}
	if !strings.Contains(out, in) || !strings.Contains(out, "16") {
		t.Fatalf("output missing the unranked row:\n%s", out)
	}
}
