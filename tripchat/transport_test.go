package tripchat

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportsDialFailuresAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)

	cl := NewClient("ws://127.0.0.1:1", "http://127.0.0.1:1", "tok", 1, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := cl.Run(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, buf.String(), "chat stream for trip 1 lost", "dial failures must be visible in the log")
	assert.Equal(t, StateDisconnected, cl.Controller().State())
}
