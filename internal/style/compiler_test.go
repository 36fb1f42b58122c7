package style

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/layergroup-tiler/internal/layergroup"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeValidator rejects any style containing "invalid" and fails outright
// on "crash".
type fakeValidator struct {
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeValidator) Validate(ctx context.Context, src, _ string) (string, []string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	switch {
	case strings.Contains(src, "crash"):
		return "", nil, errors.New("connection refused")
	case strings.Contains(src, "invalid"):
		return "", []string{"Unrecognized rule: " + src}, nil
	}
	return "<Style>" + src + "</Style>", nil, nil
}

func layers(styles ...string) []layergroup.Layer {
	out := make([]layergroup.Layer, len(styles))
	for i, s := range styles {
		out[i] = layergroup.Layer{SQL: "select 1", CartoCSS: s, CartoCSSVersion: "2.0.1"}
	}
	return out
}

func TestCompile_PreservesLayerOrder(t *testing.T) {
	c := NewCompiler(discard(), &fakeValidator{}, 2)
	out, err := c.Compile(context.Background(), "", layers("a", "b", "c"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []string{"<Style>a</Style>", "<Style>b</Style>", "<Style>c</Style>"}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d]=%q want %q", i, out[i], want[i])
		}
	}
}

func TestCompile_ErrorsAddressLayers(t *testing.T) {
	c := NewCompiler(discard(), &fakeValidator{}, 4)
	_, err := c.Compile(context.Background(), "", layers("invalid0", "ok", "invalid2"))

	var ve *layergroup.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(ve.Messages) != 2 {
		t.Fatalf("want exactly two errors, got %v", ve.Messages)
	}
	if !strings.HasPrefix(ve.Messages[0], "style0: ") || !strings.HasPrefix(ve.Messages[1], "style2: ") {
		t.Fatalf("messages not addressed in order: %v", ve.Messages)
	}
}

func TestCompile_ValidatorFailureIsInfrastructure(t *testing.T) {
	c := NewCompiler(discard(), &fakeValidator{}, 4)
	_, err := c.Compile(context.Background(), "", layers("ok", "crash"))
	var ie *layergroup.InfrastructureError
	if !errors.As(err, &ie) {
		t.Fatalf("want InfrastructureError, got %v", err)
	}
	if layergroup.StatusCode(err) != 500 {
		t.Fatalf("status=%d", layergroup.StatusCode(err))
	}
}

func TestCompile_CoalescesSameKey(t *testing.T) {
	fv := &fakeValidator{delay: 50 * time.Millisecond}
	c := NewCompiler(discard(), fv, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Compile(context.Background(), "same", layers("a")); err != nil {
				t.Errorf("Compile: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := fv.calls.Load(); n >= 8 {
		t.Fatalf("expected coalesced validation, got %d calls", n)
	}
}
