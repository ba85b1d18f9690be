package lares

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCachedSharedFetchSurvivesFirstCallerCancel(t *testing.T) {
	var c cached[string]
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int

	fetch := func(ctx context.Context) (string, error) {
		calls++
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "LARES 48IP", nil
	}

	first, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var firstValue, secondValue string
	var firstErr, secondErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		firstValue, firstErr = c.get(first, fetch)
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		secondValue, secondErr = c.get(context.Background(), fetch)
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(release)
	wg.Wait()

	require.NoError(t, secondErr)
	require.Equal(t, "LARES 48IP", secondValue)
	require.NoError(t, firstErr)
	require.Equal(t, "LARES 48IP", firstValue)
	require.Equal(t, 1, calls)

	v, err := c.get(context.Background(), func(context.Context) (string, error) {
		t.Fatal("value should be cached")
		return "", nil
	})
	require.NoError(t, err)
	require.Equal(t, "LARES 48IP", v)
}
