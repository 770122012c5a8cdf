package predictor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestServer(t *testing.T, status int, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		file, header, err := r.FormFile(FileField)
		if err != nil {
			t.Errorf("expected multipart part %q: %v", FileField, err)
		} else {
			data, _ := io.ReadAll(file)
			file.Close()
			if string(data) != "scan-bytes" {
				t.Errorf("unexpected payload %q", data)
			}
			if header.Filename != "brain.png" {
				t.Errorf("unexpected filename %q", header.Filename)
			}
			if ct := header.Header.Get("Content-Type"); ct != "image/png" {
				t.Errorf("unexpected part content type %q", ct)
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testUpload() Upload {
	return Upload{Filename: "brain.png", ContentType: "image/png", Data: []byte("scan-bytes")}
}

func TestPredictSuccess(t *testing.T) {
	var calls int32
	srv := newTestServer(t, http.StatusOK, `{"confidence":0.92,"prediction":"Tumor Detected","status":"ok"}`, &calls)
	client := NewHTTPClient(srv.URL, time.Second, zap.NewNop())

	got, err := client.Predict(context.Background(), testUpload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Confidence != 0.92 || got.Prediction != TumorDetected || got.Status != "ok" {
		t.Fatalf("unexpected prediction: %+v", got)
	}
	if !got.IsTumor() {
		t.Fatal("expected tumor verdict")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
}

func TestPredictServerError(t *testing.T) {
	var calls int32
	srv := newTestServer(t, http.StatusInternalServerError, "internal error", &calls)
	client := NewHTTPClient(srv.URL, time.Second, zap.NewNop())

	_, err := client.Predict(context.Background(), testUpload())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T (%v)", err, err)
	}
	detail := Detail(err)
	if !strings.Contains(detail, "500") || !strings.Contains(detail, "internal error") {
		t.Fatalf("unexpected detail: %q", detail)
	}
	if calls != 1 {
		t.Fatalf("server errors must not be retried, got %d calls", calls)
	}
}

func TestPredictMalformedBody(t *testing.T) {
	var calls int32
	srv := newTestServer(t, http.StatusOK, "not json", &calls)
	client := NewHTTPClient(srv.URL, time.Second, zap.NewNop())

	_, err := client.Predict(context.Background(), testUpload())
	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedError, got %T (%v)", err, err)
	}
	if got := Detail(err); got != "not json" {
		t.Fatalf("expected raw body as detail, got %q", got)
	}
}

func TestPredictNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewHTTPClient(url, time.Second, zap.NewNop())
	_, err := client.Predict(context.Background(), testUpload())
	if err == nil {
		t.Fatal("expected network error")
	}
	if Detail(err) != err.Error() {
		t.Fatalf("network detail should be the error message, got %q", Detail(err))
	}
}

func TestDecodeAllowsTrailingWhitespace(t *testing.T) {
	pred, err := Decode([]byte("{\"confidence\":0.5,\"prediction\":\"No Tumor\",\"status\":\"ok\"}\n  "))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.Prediction != "No Tumor" {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}

func TestDecodeRejectsSchemaDeviations(t *testing.T) {
	cases := map[string]string{
		"missing status":   `{"confidence":0.5,"prediction":"No Tumor"}`,
		"missing conf":     `{"prediction":"No Tumor","status":"ok"}`,
		"missing pred":     `{"confidence":0.5,"status":"ok"}`,
		"unknown field":    `{"confidence":0.5,"prediction":"No Tumor","status":"ok","version":2}`,
		"conf above one":   `{"confidence":1.5,"prediction":"No Tumor","status":"ok"}`,
		"conf below zero":  `{"confidence":-0.1,"prediction":"No Tumor","status":"ok"}`,
		"wrong type":       `{"confidence":"high","prediction":"No Tumor","status":"ok"}`,
		"trailing object":  `{"confidence":0.5,"prediction":"No Tumor","status":"ok"}{}`,
		"trailing brace":   `{"confidence":0.5,"prediction":"No Tumor","status":"ok"}}`,
		"trailing bracket": `{"confidence":0.5,"prediction":"No Tumor","status":"ok"}]`,
		"trailing text":    `{"confidence":0.5,"prediction":"No Tumor","status":"ok"} garbage`,
		"empty body":       ``,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(body))
			var malformed *MalformedError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedError, got %v", err)
			}
			if malformed.Body != body {
				t.Fatalf("expected raw body to be kept, got %q", malformed.Body)
			}
		})
	}
}

func TestDecodeAcceptsBounds(t *testing.T) {
	for _, body := range []string{
		`{"confidence":0,"prediction":"No Tumor","status":"ok"}`,
		`{"confidence":1,"prediction":"Tumor Detected","status":"ok"}`,
	} {
		if _, err := Decode([]byte(body)); err != nil {
			t.Fatalf("expected %s to decode: %v", body, err)
		}
	}
}
