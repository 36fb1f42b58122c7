package style

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPValidator_CompiledAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in validateBody
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Style == "bad" {
			_, _ = io.WriteString(w, `{"errors":["Invalid code: bad"]}`)
			return
		}
		_, _ = io.WriteString(w, `{"compiled":"<Map/>","errors":[]}`)
	}))
	defer srv.Close()

	v, err := NewHTTPValidator(discard(), srv.Client(), srv.URL, time.Second)
	if err != nil {
		t.Fatalf("NewHTTPValidator: %v", err)
	}
	out, probs, err := v.Validate(context.Background(), "#layer{}", "2.0.1")
	if err != nil || out != "<Map/>" || len(probs) != 0 {
		t.Fatalf("out=%q probs=%v err=%v", out, probs, err)
	}
	_, probs, err = v.Validate(context.Background(), "bad", "2.0.1")
	if err != nil || len(probs) != 1 {
		t.Fatalf("probs=%v err=%v", probs, err)
	}
}

func TestHTTPValidator_ServerErrorAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slow") != "" {
			<-r.Context().Done()
			return
		}
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	v, _ := NewHTTPValidator(discard(), srv.Client(), srv.URL, time.Second)
	if _, _, err := v.Validate(context.Background(), "x", "2.0.1"); err == nil {
		t.Fatalf("expected error on 502")
	}

	slow, _ := NewHTTPValidator(discard(), srv.Client(), srv.URL+"?slow=1", 50*time.Millisecond)
	_, _, err := slow.Validate(context.Background(), "x", "2.0.1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
