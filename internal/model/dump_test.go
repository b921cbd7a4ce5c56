package model

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"omrun/internal/acl"
)

func TestDumper_NamesFilesPerRun(t *testing.T) {
	p, rt, _ := readyProcess(t, acl.RunModeHost, testManifest(8, 12))
	in, _ := rt.Malloc(1024, acl.MallocNormalOnly)
	if err := p.AllocateOutputs(); err != nil {
		t.Fatalf("AllocateOutputs: %v", err)
	}
	if err := p.BindInput(in, 1024); err != nil {
		t.Fatalf("BindInput: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "dump")
	d := NewDumper(dir)
	var all []string
	for run := 0; run < 2; run++ {
		if err := p.Execute(); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		outs, err := p.CollectOutputs()
		if err != nil {
			t.Fatalf("CollectOutputs: %v", err)
		}
		paths, err := d.Dump(outs)
		if err != nil {
			t.Fatalf("Dump: %v", err)
		}
		for _, o := range outs {
			want, _ := o.Bytes()
			got, err := os.ReadFile(paths[o.Index])
			if err != nil || !bytes.Equal(got, want) {
				t.Fatalf("dump %s: err=%v equal=%t", paths[o.Index], err, bytes.Equal(got, want))
			}
		}
		all = append(all, paths...)
		if err := ReleaseOutputs(outs); err != nil {
			t.Fatalf("ReleaseOutputs: %v", err)
		}
	}

	var names []string
	for _, path := range all {
		names = append(names, filepath.Base(path))
	}
	want := []string{"output1_0.bin", "output1_1.bin", "output2_0.bin", "output2_1.bin"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("dump names = %v, want %v", names, want)
		}
	}

	p.ReleaseInput()
	_ = rt.Free(in)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	requireClean(t, rt)
}
