package recovery_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benthamhq/bentham/pkg/apierror"
	"github.com/benthamhq/bentham/pkg/recovery"
	"github.com/benthamhq/bentham/pkg/surface"
	"github.com/benthamhq/bentham/pkg/surface/mockadapter"
)

func fastConfig() recovery.Config {
	return recovery.Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Threshold:  5,
		ResetMs:    50 * time.Millisecond,
	}
}

func TestExecuteSucceedsOnPrimary(t *testing.T) {
	mgr := recovery.NewManager(fastConfig())
	primary := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "ok"}})

	result := mgr.Execute(context.Background(), "chatgpt", surface.Request{}, primary, nil, nil)
	if !result.Success || result.Strategy != recovery.StrategyPrimary {
		t.Fatalf("Execute() = %+v, want success via primary", result)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	mgr := recovery.NewManager(fastConfig())
	primary := mockadapter.New(
		mockadapter.Step{Err: fmt.Errorf("connection reset")},
		mockadapter.Step{Err: fmt.Errorf("connection reset")},
		mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "ok"}},
	)

	result := mgr.Execute(context.Background(), "chatgpt-retry", surface.Request{}, primary, nil, nil)
	if !result.Success || result.Strategy != recovery.StrategyPrimary {
		t.Fatalf("Execute() = %+v, want eventual success via primary", result)
	}
	if result.Attempts < 3 {
		t.Errorf("Attempts = %d, want at least 3", result.Attempts)
	}
}

func TestExecuteFallsBackToAlternative(t *testing.T) {
	mgr := recovery.NewManager(fastConfig())
	primary := mockadapter.New(mockadapter.Step{Err: fmt.Errorf("permanent failure")})
	alt := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "from alternate"}})

	result := mgr.Execute(context.Background(), "chatgpt-alt", surface.Request{}, primary, []surface.Adapter{alt}, nil)
	if !result.Success || result.Strategy != recovery.StrategyAlternative {
		t.Fatalf("Execute() = %+v, want success via alternative", result)
	}
}

func TestExecuteUsesCDPFallbackBeforeAlternatives(t *testing.T) {
	mgr := recovery.NewManager(fastConfig())
	primary := mockadapter.New(mockadapter.Step{Err: fmt.Errorf("permanent failure")})
	alt := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "should not be reached"}})
	cdpCalled := false
	cdp := func(ctx context.Context, req surface.Request) (surface.Response, error) {
		cdpCalled = true
		return surface.Response{Success: true, ResponseText: "from cdp"}, nil
	}

	result := mgr.Execute(context.Background(), "chatgpt-cdp", surface.Request{}, primary, []surface.Adapter{alt}, cdp)
	if !result.Success || result.Strategy != recovery.StrategyCDPFallback {
		t.Fatalf("Execute() = %+v, want success via cdp fallback", result)
	}
	if !cdpCalled {
		t.Error("cdp fallback was never invoked")
	}
}

func TestExecuteReturnsAllErrorsFailed(t *testing.T) {
	mgr := recovery.NewManager(fastConfig())
	primary := mockadapter.New(mockadapter.Step{Err: fmt.Errorf("connection reset")})

	result := mgr.Execute(context.Background(), "chatgpt-fail", surface.Request{}, primary, nil, nil)
	if result.Success {
		t.Fatal("Execute() succeeded, want failure")
	}
	if len(result.Errors) == 0 {
		t.Error("expected at least one classified error")
	}
}

func TestFallbackSuccessResetsConsecutiveFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.Threshold = 2
	mgr := recovery.NewManager(cfg)

	// One bare primary failure, then one primary failure covered by a
	// successful alternative — the second shouldn't add to the streak a
	// third real failure would need to trip the breaker.
	failingPrimary := mockadapter.New(mockadapter.Step{Err: fmt.Errorf("connection reset")})
	mgr.Execute(context.Background(), "chatgpt-recover", surface.Request{}, failingPrimary, nil, nil)

	primary := mockadapter.New(mockadapter.Step{Err: fmt.Errorf("connection reset")})
	alt := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true, ResponseText: "covered"}})
	result := mgr.Execute(context.Background(), "chatgpt-recover", surface.Request{}, primary, []surface.Adapter{alt}, nil)
	if !result.Success || result.Strategy != recovery.StrategyAlternative {
		t.Fatalf("Execute() = %+v, want success via alternative", result)
	}

	health := mgr.Health("chatgpt-recover")
	if health.Circuit == surface.CircuitOpen {
		t.Fatal("circuit opened even though the second failure was covered by an alternative")
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.Threshold = 2
	mgr := recovery.NewManager(cfg)
	primary := mockadapter.New(mockadapter.Step{Err: fmt.Errorf("connection reset")})

	for i := 0; i < 2; i++ {
		mgr.Execute(context.Background(), "chatgpt-circuit", surface.Request{}, primary, nil, nil)
	}

	health := mgr.Health("chatgpt-circuit")
	if health.Circuit != surface.CircuitOpen {
		t.Fatalf("Circuit = %q after threshold failures, want open", health.Circuit)
	}

	result := mgr.Execute(context.Background(), "chatgpt-circuit", surface.Request{}, primary, nil, nil)
	if len(result.Errors) != 1 || result.Errors[0] != string(apierror.CircuitOpen) {
		t.Errorf("Execute() with open circuit = %+v, want a single CIRCUIT_OPEN error", result.Errors)
	}
}

func TestHealthRecordsSuccess(t *testing.T) {
	mgr := recovery.NewManager(fastConfig())
	ok := mockadapter.New(mockadapter.Step{Response: surface.Response{Success: true}})
	mgr.Execute(context.Background(), "chatgpt-health", surface.Request{}, ok, nil, nil)

	health := mgr.Health("chatgpt-health")
	if health.LastSuccess == nil {
		t.Error("expected LastSuccess to be set after a successful call")
	}
}

func TestClassifyMapsKnownPatterns(t *testing.T) {
	cases := []struct {
		err  error
		want apierror.Code
	}{
		{context.DeadlineExceeded, apierror.Timeout},
		{context.Canceled, apierror.Cancelled},
		{fmt.Errorf("status 429 too many requests"), apierror.UpstreamRateLimit},
		{fmt.Errorf("captcha required"), apierror.AntiBot},
		{fmt.Errorf("session expired"), apierror.SessionExpired},
		{fmt.Errorf("request timed out"), apierror.Timeout},
		{fmt.Errorf("connection refused"), apierror.NetworkError},
		{fmt.Errorf("something truly unexpected"), apierror.Unknown},
	}
	for _, c := range cases {
		if got := recovery.Classify(c.err); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   apierror.Code
	}{
		{429, apierror.UpstreamRateLimit},
		{408, apierror.Timeout},
		{503, apierror.NetworkError},
		{404, apierror.Unknown},
	}
	for _, c := range cases {
		if got := recovery.ClassifyHTTPStatus(c.status); got != c.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %q, want %q", c.status, got, c.want)
		}
	}
}
