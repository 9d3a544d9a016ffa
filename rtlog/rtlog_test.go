package rtlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/logiface"
)

func captureHandler(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetHandler(slog.NewJSONHandler(&buf, nil))
	t.Cleanup(func() { SetHandler(slog.NewJSONHandler(nil, nil)) })
	return &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestUnhandledException_LogsJobAndError(t *testing.T) {
	buf := captureHandler(t)

	UnhandledException("worker-1", "job-42", errors.New("boom"))

	m := decodeLine(t, buf)
	require.Equal(t, "worker-1", m["job_name"])
	require.Equal(t, "job-42", m["job_id"])
	require.Equal(t, "unhandled coroutine exception", m["msg"])
}

func TestDispatcherTaskPanic_LogsRecoveredValue(t *testing.T) {
	buf := captureHandler(t)

	DispatcherTaskPanic("io", errors.New("kaboom"))

	m := decodeLine(t, buf)
	require.Equal(t, "io", m["dispatcher"])
	require.Equal(t, "dispatched task panicked", m["msg"])
}

func TestUndeliveredElement_LogsChannelAndReason(t *testing.T) {
	buf := captureHandler(t)

	UndeliveredElement("events", "drop_oldest")

	m := decodeLine(t, buf)
	require.Equal(t, "events", m["channel"])
	require.Equal(t, "drop_oldest", m["reason"])
}

func TestSetLevel_SuppressesBelowConfiguredLevel(t *testing.T) {
	buf := captureHandler(t)
	t.Cleanup(func() { SetLevel(logiface.LevelInformational) })

	SetLevel(LevelFromName("error"))
	UndeliveredElement("events", "drop_oldest")
	require.Zero(t, buf.Len())

	SetLevel(LevelFromName("debug"))
	UndeliveredElement("events", "drop_oldest")
	require.NotZero(t, buf.Len())
}
