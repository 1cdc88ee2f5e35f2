package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HMasataka/partyline/pkg/retry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers with statuses[i] on the i-th request and 200 with
// reply once the script runs out.
func scriptedServer(t *testing.T, reply string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + reply + `"}}]}`))
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

type result struct {
	reply string
	err   error
}

type recorder struct {
	mu       sync.Mutex
	attempts []retry.Attempt
}

func (r *recorder) observe(a retry.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *recorder) delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.attempts))
	for i, a := range r.attempts {
		out[i] = a.Delay
	}
	return out
}

// run calls Complete in the background and advances the fake clock through
// each expected wait.
func run(t *testing.T, c *Client, fc *clockwork.FakeClock, waits []time.Duration) result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		reply, err := c.Complete(ctx, "hello")
		done <- result{reply, err}
	}()

	for _, d := range waits {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(d)
	}

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		t.Fatal("Complete did not return")
		return result{}
	}
}

func expectedWaits(n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = time.Duration(1<<(i+1)) * time.Second
	}
	return out
}

func TestComplete_SendsChatRequest(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth, contentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", WithEndpoint(srv.URL), WithModel("test-model"))
	reply, err := c.Complete(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestComplete_RateLimitedThenSucceeds(t *testing.T) {
	srv, calls := scriptedServer(t, "finally", 429, 429, 429)
	fc := clockwork.NewFakeClock()
	rec := &recorder{}

	c := NewClient("key", WithEndpoint(srv.URL), WithClock(fc), WithOnRetry(rec.observe))
	res := run(t, c, fc, expectedWaits(3))

	require.NoError(t, res.err)
	assert.Equal(t, "finally", res.reply)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, expectedWaits(3), rec.delays())
	for i, a := range rec.attempts {
		assert.Equal(t, i, a.Index)
		assert.Equal(t, http.StatusTooManyRequests, a.Status)
	}
}

func TestComplete_InternalServerErrorIsRetried(t *testing.T) {
	srv, calls := scriptedServer(t, "ok", 500, 500)
	fc := clockwork.NewFakeClock()

	c := NewClient("key", WithEndpoint(srv.URL), WithClock(fc))
	res := run(t, c, fc, expectedWaits(2))

	require.NoError(t, res.err)
	assert.Equal(t, "ok", res.reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_ServiceUnavailableFailsImmediately(t *testing.T) {
	srv, calls := scriptedServer(t, "unused", 503)
	fc := clockwork.NewFakeClock()
	rec := &recorder{}

	c := NewClient("key", WithEndpoint(srv.URL), WithClock(fc), WithOnRetry(rec.observe))
	res := run(t, c, fc, nil)

	var statusErr *StatusError
	require.ErrorAs(t, res.err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.NotErrorIs(t, res.err, ErrRetryExhausted)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.delays())
}

func TestComplete_TerminalStatusFailsImmediately(t *testing.T) {
	srv, calls := scriptedServer(t, "unused", 404)
	fc := clockwork.NewFakeClock()
	rec := &recorder{}

	c := NewClient("key", WithEndpoint(srv.URL), WithClock(fc), WithOnRetry(rec.observe))
	res := run(t, c, fc, nil)

	var statusErr *StatusError
	require.ErrorAs(t, res.err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "nope")
	assert.NotErrorIs(t, res.err, ErrRetryExhausted)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.delays())
}

func TestComplete_ExhaustsAfterMaxAttempts(t *testing.T) {
	statuses := make([]int, 20)
	for i := range statuses {
		statuses[i] = http.StatusInternalServerError
	}
	srv, calls := scriptedServer(t, "unused", statuses...)
	fc := clockwork.NewFakeClock()
	rec := &recorder{}
	start := fc.Now()

	c := NewClient("key", WithEndpoint(srv.URL), WithClock(fc), WithOnRetry(rec.observe))
	res := run(t, c, fc, expectedWaits(10))

	require.ErrorIs(t, res.err, ErrRetryExhausted)
	assert.Contains(t, res.err.Error(), "max retry attempts reached")
	assert.Equal(t, int32(10), calls.Load())
	assert.Equal(t, expectedWaits(10), rec.delays())
	assert.Equal(t, retry.DefaultPolicy().TotalDelay(), fc.Since(start))

	var statusErr *StatusError
	require.ErrorAs(t, res.err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestComplete_HonoursPolicy(t *testing.T) {
	srv, calls := scriptedServer(t, "unused", 500, 500, 500)
	fc := clockwork.NewFakeClock()

	c := NewClient("key",
		WithEndpoint(srv.URL),
		WithClock(fc),
		WithPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond}),
	)
	res := run(t, c, fc, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond})

	require.ErrorIs(t, res.err, ErrRetryExhausted)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_EmptyChoicesIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient("key", WithEndpoint(srv.URL))
	_, err := c.Complete(context.Background(), "hello")

	require.ErrorIs(t, err, ErrEmptyChoices)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_TransportErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("key", WithEndpoint(url), WithClock(clockwork.NewFakeClock()))
	_, err := c.Complete(context.Background(), "hello")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestComplete_CancelDuringBackoff(t *testing.T) {
	srv, calls := scriptedServer(t, "unused", 500, 500)
	fc := clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient("key", WithEndpoint(srv.URL), WithClock(fc))

	done := make(chan error, 1)
	go func() {
		_, err := c.Complete(ctx, "hello")
		done <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, fc.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-waitCtx.Done():
		t.Fatal("Complete ignored cancellation")
	}
	assert.Equal(t, int32(1), calls.Load())
}
