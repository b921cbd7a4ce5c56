package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"omrun/internal/acl"
	"omrun/pkg/types"
)

type mockService struct {
	status   types.StatusResponse
	ready    bool
	inferErr error
	gotData  []byte
	gotTopK  int
}

func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }
func (m *mockService) Infer(ctx context.Context, data []byte, topK int) (types.RunReport, error) {
	m.gotData, m.gotTopK = data, topK
	if m.inferErr != nil {
		return types.RunReport{}, m.inferErr
	}
	return types.RunReport{
		RunID:   "run-1",
		Input:   "request",
		Outputs: []types.OutputReport{{Index: 0, Bytes: 16, Top: []types.TopEntry{{Index: 2, Value: 0.5}}}},
	}, nil
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func postInfer(h http.Handler, target, ct string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{Backend: "sim", State: "ready", Outputs: []uint64{4000}}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Backend != "sim" || body.State != "ready" || len(body.Outputs) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealthAndReady(t *testing.T) {
	svc := &mockService{ready: true}
	h := NewMux(svc)
	for path, want := range map[string]int{"/healthz": http.StatusOK, "/readyz": http.StatusOK} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Fatalf("%s status=%d", path, w.Code)
		}
	}
	svc.ready = false
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "not ready") {
		t.Fatalf("readyz status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestInfer_Success(t *testing.T) {
	svc := &mockService{}
	w := postInfer(NewMux(svc), "/infer?top_k=3", "application/octet-stream", []byte{1, 2, 3, 4})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if svc.gotTopK != 3 || !bytes.Equal(svc.gotData, []byte{1, 2, 3, 4}) {
		t.Fatalf("service got topK=%d data=%v", svc.gotTopK, svc.gotData)
	}
	var body types.InferResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.RunID != "run-1" || len(body.Outputs) != 1 || body.Outputs[0].Top[0].Index != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestInfer_RequestValidation(t *testing.T) {
	h := NewMux(&mockService{})
	cases := []struct {
		name   string
		target string
		ct     string
		body   []byte
		want   int
	}{
		{"json body", "/infer", "application/json", []byte("{}"), http.StatusUnsupportedMediaType},
		{"bad top_k", "/infer?top_k=x", "application/octet-stream", []byte{1}, http.StatusBadRequest},
		{"negative top_k", "/infer?top_k=-1", "", []byte{1}, http.StatusBadRequest},
		{"empty body", "/infer", "application/octet-stream", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postInfer(h, tc.target, tc.ct, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.want, w.Body.String())
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Code != tc.want {
				t.Fatalf("error body=%q err=%v", w.Body.String(), err)
			}
		})
	}
}

func TestInfer_BodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(8)
	defer SetMaxBodyBytes(0)
	w := postInfer(NewMux(&mockService{}), "/infer", "application/octet-stream", make([]byte, 9))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInfer_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"bind", acl.Errorf(acl.KindBind, "infer", "input is 1 bytes"), http.StatusBadRequest},
		{"io", acl.Errorf(acl.KindIO, "read", "short"), http.StatusBadRequest},
		{"state", acl.Errorf(acl.KindState, "execute", "not ready"), http.StatusConflict},
		{"execution", acl.E(acl.KindExecution, "execute", acl.StatusRuntimeFailure), http.StatusInternalServerError},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"custom", mockHTTPError{msg: "busy", code: http.StatusTooManyRequests}, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postInfer(NewMux(&mockService{inferErr: tc.err}), "/infer", "application/octet-stream", []byte{1})
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d", w.Code, tc.want)
			}
			if !strings.Contains(w.Body.String(), tc.err.Error()) {
				t.Fatalf("body %q does not carry the error", w.Body.String())
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	SetCORSOptions(true, []string{"https://example.org"}, []string{"POST"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/infer", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.org" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}
