package bus

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestLogAsyncErrorNamesTheSubject(t *testing.T) {
	prev := log.Writer()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })

	logAsyncError(nil, &nats.Subscription{Subject: UpdatesSubject}, nats.ErrSlowConsumer)
	got := buf.String()
	if !strings.Contains(got, UpdatesSubject) || !strings.Contains(got, "slow consumer") {
		t.Fatalf("log line missing subject or cause: %q", got)
	}

	buf.Reset()
	logAsyncError(nil, nil, nats.ErrConnectionClosed)
	if !strings.Contains(buf.String(), "async error") {
		t.Fatalf("connection-level error not logged: %q", buf.String())
	}
}
