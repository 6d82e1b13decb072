package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCompositeHealthChecker_NoChecks(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	st := c.Check(context.Background())
	assert.True(t, st.Healthy)
	assert.Equal(t, "v1", st.Version)
}

func TestCompositeHealthChecker_AggregatesEveryCheck(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("redis", NewPingCheck(pingFunc(func(context.Context) error { return nil })))
	c.AddCheck("postgres", NewPingCheck(pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })))
	c.AddCheck("archive", func(context.Context) error { return errors.New("disk full") })

	st := c.Check(context.Background())
	assert.False(t, st.Healthy)
	assert.Len(t, st.Checks, 3)
	assert.True(t, st.Checks["redis"].Healthy)
	assert.Equal(t, "dial tcp: refused", st.Checks["postgres"].Message)
	assert.Equal(t, "checks failed: archive, postgres", st.Message)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	st := c.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, st.Checks["slow"].Healthy)
	assert.Contains(t, st.Checks["slow"].Message, "deadline exceeded")
}
