package mockadapter_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/benthamhq/bentham/pkg/surface"
	"github.com/benthamhq/bentham/pkg/surface/mockadapter"
)

func TestQueryReplaysScriptInOrder(t *testing.T) {
	a := mockadapter.New(
		mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "first"}},
		mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "second"}},
	)

	resp, err := a.Query(context.Background(), surface.Request{})
	if err != nil || resp.ResponseText != "first" {
		t.Fatalf("first call = (%+v, %v), want ResponseText=first", resp, err)
	}
	resp, err = a.Query(context.Background(), surface.Request{})
	if err != nil || resp.ResponseText != "second" {
		t.Fatalf("second call = (%+v, %v), want ResponseText=second", resp, err)
	}
}

func TestQueryRepeatsLastStepPastScriptEnd(t *testing.T) {
	a := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "only"}})

	a.Query(context.Background(), surface.Request{})
	resp, err := a.Query(context.Background(), surface.Request{})
	if err != nil || resp.ResponseText != "only" {
		t.Fatalf("second call past script end = (%+v, %v), want repeat of the only step", resp, err)
	}
	if a.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", a.Calls())
	}
}

func TestQueryRespectsContextCancellation(t *testing.T) {
	a := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Query(ctx, surface.Request{})
	if err == nil {
		t.Fatal("Query with a cancelled context should return an error")
	}
}

func TestCloseIsIdempotentAndObservable(t *testing.T) {
	a := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true}})
	if a.Closed() {
		t.Fatal("Closed() should be false before Close")
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !a.Closed() {
		t.Error("Closed() should be true after Close")
	}
}

func TestHealthCheckUsesQuery(t *testing.T) {
	a := mockadapter.New(mockadapter.Step{Err: fmt.Errorf("down")})
	if err := a.HealthCheck(context.Background()); err == nil {
		t.Fatal("HealthCheck should surface the scripted error")
	}
}
