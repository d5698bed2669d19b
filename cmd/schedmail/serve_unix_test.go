//go:build unix

package main

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServe_StopsOnSignal(t *testing.T) {
	setupCLI(t)

	logs := &lockedBuffer{}
	app := newApp(&bytes.Buffer{})
	app.ErrWriter = logs

	done := make(chan error, 1)
	go func() {
		done <- app.Run([]string{"schedmail", "--env-file", "", "serve"})
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "engine started")
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop on SIGINT")
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "engine stopped"), logs.String())
}
