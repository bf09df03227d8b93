package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSRouter implements MessageRouter backed by NATS JetStream.
type NATSRouter struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNATSRouter connects to NATS. name is the client name shown in NATS
// monitoring. logger may be nil.
func NewNATSRouter(url, name string, logger *slog.Logger) (*NATSRouter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.PingInterval(5*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream init: %w", err)
	}
	return &NATSRouter{nc: nc, js: js}, nil
}

// Publish uses JetStream when a DeduplicationID is set, core NATS otherwise.
func (r *NATSRouter) Publish(ctx context.Context, subject string, data []byte, opts ...PubOptions) error {
	var opt PubOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	if opt.DeduplicationID != "" {
		msg := &nats.Msg{
			Subject: subject,
			Data:    data,
			Header:  make(nats.Header),
		}
		msg.Header.Set("Nats-Msg-Id", opt.DeduplicationID)
		_, err := r.js.PublishMsg(ctx, msg)
		return err
	}
	return r.nc.Publish(subject, data)
}

// Subscribe creates a JetStream consumer when Durable is set, a core NATS
// subscription otherwise.
func (r *NATSRouter) Subscribe(ctx context.Context, subject string, opts ...SubOptions) (<-chan *Message, error) {
	var opt SubOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	if opt.Durable == "" {
		box := newMailbox(256)
		sub, err := r.nc.Subscribe(subject, func(msg *nats.Msg) {
			box.offer(&Message{Subject: msg.Subject, Data: msg.Data, Reply: msg.Reply})
		})
		if err != nil {
			return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
		}
		go func() {
			<-ctx.Done()
			sub.Unsubscribe()
			// A handler may still be running; mailbox drops its message.
			box.close()
		}()
		return box.ch, nil
	}

	ch := make(chan *Message, 256)

	cfg := jetstream.ConsumerConfig{
		Durable:       opt.Durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       coalesce(opt.AckWait, 30*time.Second),
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opt.StartTime != nil {
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = opt.StartTime
	}
	consumer, err := r.js.CreateOrUpdateConsumer(ctx, streamNameFromSubject(subject), cfg)
	if err != nil {
		return nil, fmt.Errorf("create JetStream consumer %s: %w", opt.Durable, err)
	}
	iter, err := consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", opt.Durable, err)
	}

	go func() {
		<-ctx.Done()
		iter.Stop()
	}()
	go func() {
		defer close(ch)
		for {
			msg, err := iter.Next()
			if err != nil {
				return
			}
			msg.Ack()
			select {
			case ch <- &Message{Subject: msg.Subject(), Data: msg.Data()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// EnsureStream creates the stream or updates its subjects.
func (r *NATSRouter) EnsureStream(ctx context.Context, name string, subjects []string) error {
	_, err := r.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   subjects,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

func (r *NATSRouter) Close() error {
	return r.nc.Drain()
}

// mailbox is a buffered channel that drops messages when full or closed.
type mailbox struct {
	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

func newMailbox(size int) *mailbox {
	return &mailbox{ch: make(chan *Message, size)}
}

// offer never blocks. It reports whether msg was queued.
func (m *mailbox) offer(msg *Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}

func coalesce(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// streamNameFromSubject returns the stream for a subject: its first token.
// "alert.t1.water" -> "alert"
func streamNameFromSubject(subject string) string {
	for i, c := range subject {
		if c == '.' {
			return subject[:i]
		}
	}
	return subject
}
