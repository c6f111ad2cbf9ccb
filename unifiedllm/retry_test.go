package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func busyErr(retryAfter time.Duration) error {
	return ErrorFromStatus(503, "server busy", OllamaProviderName, "m", retryAfter)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 3, MaxDelay: 2 * time.Second}

	want := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 900 * time.Millisecond, 2 * time.Second, 2 * time.Second}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestRetryPolicyDelayFlatWithoutMultiplier(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}
	if got := p.Delay(5); got != time.Second {
		t.Errorf("Delay(5) = %v, want 1s", got)
	}
}

func TestRetryPolicyJitterRange(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 50; i++ {
		if got := p.Delay(1); got < time.Second || got >= 3*time.Second {
			t.Fatalf("jittered Delay(1) = %v, want within [1s, 3s)", got)
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 2 || p.BaseDelay != time.Second || p.MaxDelay != 30*time.Second || p.Multiplier != 2 || !p.Jitter {
		t.Errorf("DefaultRetryPolicy() = %+v", p)
	}
}

func TestRetryRecovers(t *testing.T) {
	var retries []int
	p := RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		OnRetry:    func(_ error, attempt int, _ time.Duration) { retries = append(retries, attempt) },
	}

	calls := 0
	got, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &ServerUnreachableError{Host: "h"}
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Retry() = %d, %v", got, err)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v", retries)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond}
	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "", ErrorFromStatus(404, "missing", OllamaProviderName, "m", 0)
	})
	if !isType[*ModelNotFoundError](err) || calls != 1 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}
	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "", busyErr(0)
	})
	if !isType[*ServerBusyError](err) || calls != 3 {
		t.Errorf("err = %v after %d calls, want busy after 3", err, calls)
	}
}

func TestRetryHonoursRetryAfter(t *testing.T) {
	var delays []time.Duration
	p := RetryPolicy{
		MaxRetries: 1,
		BaseDelay:  time.Hour,
		OnRetry:    func(_ error, _ int, d time.Duration) { delays = append(delays, d) },
	}
	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", busyErr(5 * time.Millisecond)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(delays) != 1 || delays[0] != 5*time.Millisecond {
		t.Errorf("delays = %v", delays)
	}
}

func TestRetryAfterBeyondMaxDelayEndsRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "", busyErr(time.Minute)
	})
	if err == nil || calls != 1 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}

func TestRetryCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour}

	_, err := Retry(ctx, p, func(context.Context) (string, error) {
		cancel()
		return "", errors.New("flaky")
	})
	if !isType[*AbortError](err) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want an abort wrapping context.Canceled", err)
	}
}

func TestRetryZeroPolicyCallsOnce(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryPolicy{}, func(context.Context) (string, error) {
		calls++
		return "", busyErr(0)
	})
	if err == nil || calls != 1 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}
