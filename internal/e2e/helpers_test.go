package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"

	"omrun/internal/acl"
	"omrun/internal/acl/sim"
	"omrun/internal/httpapi"
	"omrun/internal/resource"
	"omrun/internal/sample"
)

const modelPath = "/models/e2e.om"

// testManifest has one 12-byte input and two float32 outputs of four and two
// elements.
var testManifest = sim.Manifest{WorkSize: 4 << 10, WeightSize: 8 << 10, Inputs: []uint64{12}, Outputs: []uint64{16, 8}}

// testInput is 10, 20, ... 120, so the kernel's largest element is always the
// last one that fits.
func testInput() []byte {
	b := make([]byte, 12)
	for i := range b {
		b[i] = byte(10 * (i + 1))
	}
	return b
}

type harness struct {
	srv  *httptest.Server
	rt   *sim.Runtime
	sess *sample.Session
	res  *resource.Resource
}

// newServer brings up the process resources, a session and the HTTP API over a
// simulated runtime. Cleanup tears everything down and fails the test if any
// runtime object was leaked.
func newServer(t *testing.T, mode acl.RunMode) *harness {
	t.Helper()
	rt := sim.New(sim.WithRunMode(mode), sim.WithModel(modelPath, testManifest))
	res := resource.New(rt, 0)
	if err := res.Init(); err != nil {
		t.Fatalf("resource init: %v", err)
	}
	sess, err := sample.OpenSession(rt, res.Mode(), "sim", sample.Options{Model: modelPath, TopK: 3})
	if err != nil {
		res.Close()
		t.Fatalf("open session: %v", err)
	}
	h := &harness{srv: httptest.NewServer(httpapi.NewMux(sess)), rt: rt, sess: sess, res: res}
	t.Cleanup(func() {
		h.srv.Close()
		if err := sess.Close(); err != nil {
			t.Errorf("close session: %v", err)
		}
		res.Close()
		if l := rt.Leaks(); !l.Clean() {
			t.Errorf("leaked runtime objects after shutdown: %+v", l)
		}
	})
	return h
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostTensor(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func decode(t *testing.T, body []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}
