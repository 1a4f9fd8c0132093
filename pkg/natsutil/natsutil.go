// Package natsutil publishes and consumes the JSON events exchanged by the
// binaries over NATS, propagating OpenTelemetry trace context in message
// headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Subjects.
const (
	SubjectIndexRebuilt = "mffacts.index.rebuilt"
	SubjectAnswerAudit  = "mffacts.answer.audit"
)

// IndexRebuilt is published by the build after a successful rebuild.
type IndexRebuilt struct {
	Documents  int       `json:"documents"`
	Passages   int       `json:"passages"`
	Indexed    int       `json:"indexed"`
	Dimensions int       `json:"dimensions"`
	Failures   int       `json:"failures"`
	BuiltAt    time.Time `json:"built_at"`
}

// AnswerAudit records one answered query. The question text is not
// included, only its length.
type AnswerAudit struct {
	RequestID   string    `json:"request_id,omitempty"`
	QuestionLen int       `json:"question_len"`
	Outcome     string    `json:"outcome"`
	Refused     bool      `json:"refused"`
	Citation    string    `json:"citation,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	At          time.Time `json:"at"`
}

type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Conn is the part of *nats.Conn used here.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Encode builds the message for v on subject with the trace context of ctx
// injected into its headers.
func Encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Decode unpacks msg into a T and returns a context carrying the sender's
// trace.
func Decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	return ctx, v, nil
}

// Publish sends v as JSON on subject.
func Publish[T any](ctx context.Context, nc Conn, subject string, v T) error {
	msg, err := Encode(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe calls handler for every decodable message on subject.
// Malformed messages are dropped.
func Subscribe[T any](nc Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, v, err := Decode[T](msg)
		if err != nil {
			return
		}
		handler(ctx, v)
	})
}

// Connect dials url. An empty url returns a nil connection and no error so
// that events stay optional.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsutil: connect %s: %w", url, err)
	}
	return nc, nil
}

// Events publishes on a connection that may be absent. A nil *Events or one
// without a connection drops everything, so callers never branch on
// whether NATS is configured.
type Events struct {
	nc     Conn
	logger *slog.Logger
}

// NewEvents wraps nc. nc may be nil.
func NewEvents(nc Conn, logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	if c, ok := nc.(*nats.Conn); ok && c == nil {
		nc = nil
	}
	return &Events{nc: nc, logger: logger}
}

// Enabled reports whether events are actually sent.
func (e *Events) Enabled() bool { return e != nil && e.nc != nil }

// IndexRebuilt announces a finished build.
func (e *Events) IndexRebuilt(ctx context.Context, ev IndexRebuilt) {
	send(ctx, e, SubjectIndexRebuilt, ev)
}

// AnswerAudit records an answered query.
func (e *Events) AnswerAudit(ctx context.Context, ev AnswerAudit) {
	send(ctx, e, SubjectAnswerAudit, ev)
}

// Publish failures are logged, not returned: events never fail a request
// or a build.
func send[T any](ctx context.Context, e *Events, subject string, v T) {
	if !e.Enabled() {
		return
	}
	if err := Publish(ctx, e.nc, subject, v); err != nil {
		e.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
