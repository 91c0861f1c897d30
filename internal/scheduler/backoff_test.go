package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ErlanBelekov/reminder-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, 30 * time.Second},
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{40, time.Hour},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.attempts), func(t *testing.T) {
			assert.Equal(t, tc.want, retryDelay(tc.attempts))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("rate limit", func(t *testing.T) {
		err := fmt.Errorf("send: %w", &domain.RateLimitError{RetryAfter: 17 * time.Second, Err: errors.New("429")})
		f := Classify(err)
		assert.Equal(t, FailureRateLimit, f.Kind)
		assert.Equal(t, 17*time.Second, f.RetryAfter)
		assert.Contains(t, f.Message, "429")
	})

	t.Run("terminal with hint", func(t *testing.T) {
		f := Classify(&domain.RetryHintError{After: 5 * time.Second, Err: errors.New("slow down")})
		assert.Equal(t, FailureTerminal, f.Kind)
		assert.Equal(t, 5*time.Second, f.RetryAfter)
	})

	t.Run("plain error", func(t *testing.T) {
		f := Classify(errors.New("chat not found"))
		assert.Equal(t, FailureTerminal, f.Kind)
		assert.Zero(t, f.RetryAfter)
		assert.Equal(t, "chat not found", f.Message)
	})

	t.Run("long message is truncated", func(t *testing.T) {
		long := make([]byte, 2000)
		for i := range long {
			long[i] = 'x'
		}
		f := Classify(errors.New(string(long)))
		assert.Len(t, f.Message, maxErrorLen)
	})
}

func TestRetryNotBefore(t *testing.T) {
	now := time.Date(2024, 9, 16, 13, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(2*time.Minute),
		RetryNotBefore(Failure{Kind: FailureTerminal}, 2, now))
	assert.Equal(t, now.Add(17*time.Second),
		RetryNotBefore(Failure{Kind: FailureRateLimit, RetryAfter: 17 * time.Second}, 5, now))
	assert.Equal(t, now.Add(30*time.Second),
		RetryNotBefore(Failure{Kind: FailureRateLimit}, 0, now), "rate limit without hint falls back to backoff")
}

func TestClassify_MessageIsStorableText(t *testing.T) {
	f := Classify(errors.New("bad gateway: \xff\xfe body\x00end"))

	assert.True(t, utf8.ValidString(f.Message))
	assert.NotContains(t, f.Message, "\x00")
	assert.Equal(t, "bad gateway: \uFFFD bodyend", f.Message)

	long := Classify(errors.New(strings.Repeat("\xff", maxErrorLen+10)))
	assert.True(t, utf8.ValidString(long.Message))
	assert.LessOrEqual(t, utf8.RuneCountInString(long.Message), maxErrorLen)
}
