package surface_test

import (
	"context"
	"testing"

	"github.com/benthamhq/bentham/pkg/surface"
	"github.com/benthamhq/bentham/pkg/surface/mockadapter"
)

func TestResolveReturnsErrorForUnregisteredSurface(t *testing.T) {
	r := surface.NewRegistry()
	if _, err := r.Resolve("does-not-exist", nil); err == nil {
		t.Fatal("Resolve should error for an unregistered surface")
	}
}

func TestResolveBuildsFromRegisteredFactory(t *testing.T) {
	r := surface.NewRegistry()
	r.Register("chatgpt", func(surfaceID string, options map[string]any) (surface.Adapter, error) {
		return mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true}}), nil
	})

	a, err := r.Resolve("chatgpt", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	resp, err := a.Query(context.Background(), surface.Request{})
	if err != nil || !resp.Success {
		t.Errorf("built adapter did not behave as registered: %+v, %v", resp, err)
	}
}

func TestKnownListsRegisteredSurfaces(t *testing.T) {
	r := surface.NewRegistry()
	r.Register("chatgpt", func(string, map[string]any) (surface.Adapter, error) { return nil, nil })
	r.Register("perplexity", func(string, map[string]any) (surface.Adapter, error) { return nil, nil })

	known := r.Known()
	if len(known) != 2 {
		t.Fatalf("Known() = %v, want 2 entries", known)
	}
}
