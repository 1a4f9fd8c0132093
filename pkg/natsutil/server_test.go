package natsutil

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestEvents_IndexRebuiltRoundTrip(t *testing.T) {
	srv := startTestNATS(t)
	nc, err := Connect(srv.ClientURL(), "mffacts-test", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	ch := make(chan IndexRebuilt, 1)
	sub, err := Subscribe(nc, SubjectIndexRebuilt, func(_ context.Context, ev IndexRebuilt) {
		ch <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	// a malformed message is dropped and must not reach the handler
	if err := nc.Publish(SubjectIndexRebuilt, []byte("{")); err != nil {
		t.Fatal(err)
	}

	events := NewEvents(nc, nil)
	if !events.Enabled() {
		t.Fatal("events should be enabled")
	}
	events.IndexRebuilt(context.Background(), IndexRebuilt{Documents: 4, Indexed: 42})
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ch:
		if got.Indexed != 42 || got.Documents != 4 {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEvents_AnswerAuditSubject(t *testing.T) {
	srv := startTestNATS(t)
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)

	sub, err := nc.SubscribeSync(SubjectAnswerAudit)
	if err != nil {
		t.Fatal(err)
	}
	NewEvents(nc, nil).AnswerAudit(context.Background(), AnswerAudit{RequestID: "r-9", Outcome: "refused", Refused: true})

	msg, err := sub.NextMsg(3 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	_, got, err := Decode[AnswerAudit](msg)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "r-9" || !got.Refused {
		t.Errorf("audit = %+v", got)
	}
}
