package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ocuzn/sensors-server/internal/config"
	"github.com/ocuzn/sensors-server/internal/metrics"
)

const (
	subscribeTimeout   = 5 * time.Second
	unsubscribeTimeout = 2 * time.Second
	pingTimeout        = 10 * time.Second
	quiesceMillis      = 250
)

var errStopped = errors.New("subscriber stopped")

// State is the connection lifecycle of a Subscriber.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageHandler processes one delivered message. Returned errors are
// logged by the subscriber and never stop delivery of later messages.
type MessageHandler func(ctx context.Context, topic string, payload []byte) error

// Status is the snapshot served by the health endpoint.
type Status struct {
	Connected  bool   `json:"connected"`
	Status     string `json:"status"`
	Broker     string `json:"broker"`
	Topic      string `json:"topic"`
	ClientID   string `json:"client_id"`
	Received   uint64 `json:"messages_received"`
	Reconnects uint64 `json:"reconnects"`
}

type clientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Subscriber owns the broker connection and re-asserts the topic
// subscription after every (re)connect.
type Subscriber struct {
	client  mqtt.Client
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	state   State
	handler MessageHandler

	received   atomic.Uint64
	reconnects atomic.Uint64

	// ctx is handed to message handlers and cancelled by Disconnect.
	ctx    context.Context
	cancel context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSubscriber(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Subscriber {
	return newSubscriber(cfg, logger, m, mqtt.NewClient)
}

func newSubscriber(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, newClient clientFactory) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		cfg:     cfg,
		logger:  logger.With("component", "mqtt"),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	opts := clientOptions(cfg)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setState(StateConnected)
		s.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "client_id", cfg.MQTTClientID)
		s.assertSubscription()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setState(StateConnecting)
		s.logger.Warn("mqtt connection lost", "error", err)
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.reconnects.Add(1)
		s.setState(StateConnecting)
		s.logger.Info("mqtt reconnecting", "broker", cfg.MQTTBroker)
	})

	s.client = newClient(opts)
	return s
}

func clientOptions(cfg config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(cfg.MQTTReconnectInterval)
	opts.SetMaxReconnectInterval(cfg.MQTTMaxReconnectInterval)

	// Keepalive / timeouts
	opts.SetKeepAlive(cfg.MQTTKeepAlive)
	opts.SetPingTimeout(pingTimeout)
	opts.SetConnectTimeout(cfg.MQTTConnectTimeout)
	return opts
}

// SetMessageHandler must be called before Connect.
func (s *Subscriber) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Connect starts the connection and waits until the subscription is active.
// When ctx ends first the error is returned but the client keeps retrying
// in the background; the subscription is asserted once it gets through.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return errStopped
	default:
	}

	if s.State() == StateSubscribed {
		return nil
	}

	if s.State() == StateDisconnected {
		s.setState(StateConnecting)
		s.logger.Info("mqtt connecting", "broker", s.cfg.MQTTBroker, "topic", s.cfg.MQTTTopic)
		token := s.client.Connect()
		if err := s.waitToken(ctx, token); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	}

	const poll = 50 * time.Millisecond
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for s.State() != StateSubscribed {
		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt subscribe: %w", ctx.Err())
		case <-s.stopCh:
			return errStopped
		case <-ticker.C:
		}
	}
	return nil
}

// waitToken waits in a ctx/stop-aware loop.
func (s *Subscriber) waitToken(ctx context.Context, token mqtt.Token) error {
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return errStopped
		default:
		}
	}
}

// assertSubscription subscribes with backoff until it succeeds, the
// connection drops (the next OnConnect takes over) or the subscriber stops.
func (s *Subscriber) assertSubscription() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.MQTTReconnectInterval
	b.MaxInterval = s.cfg.MQTTMaxReconnectInterval
	b.MaxElapsedTime = 0
	b.Reset()

	op := func() error {
		select {
		case <-s.stopCh:
			return backoff.Permanent(errStopped)
		default:
		}
		if !s.client.IsConnectionOpen() {
			return backoff.Permanent(errors.New("connection closed before subscribe"))
		}
		return s.subscribe()
	}

	notify := func(err error, next time.Duration) {
		s.logger.Warn("mqtt subscribe failed, retrying", "topic", s.cfg.MQTTTopic, "error", err, "retry_in", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify); err != nil {
		s.logger.Warn("mqtt subscription not asserted", "topic", s.cfg.MQTTTopic, "error", err)
	}
}

func (s *Subscriber) subscribe() error {
	topic := s.cfg.MQTTTopic
	qos := s.cfg.MQTTQoS

	token := s.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	s.setState(StateSubscribed)
	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	if s.State() == StateDisconnected {
		return
	}
	s.received.Add(1)
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		s.logger.Warn("no message handler set, dropping message", "topic", topic)
		return
	}

	// The handler logs its own failures; keep a trace here for correlation.
	if err := handler(s.ctx, topic, payload); err != nil {
		s.logger.Debug("message dropped", "topic", topic, "error", err)
	}
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	// Signal shutdown once (unblocks any Connect loops).
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel()
	})

	// Unsubscribe before disconnecting
	if s.client.IsConnectionOpen() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(unsubscribeTimeout)
	}

	// Disconnect without holding s.mu to avoid lock contention/deadlocks.
	s.client.Disconnect(quiesceMillis)

	s.setState(StateDisconnected)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports an active subscription on an open connection.
func (s *Subscriber) IsConnected() bool {
	return s.State() == StateSubscribed && s.client.IsConnectionOpen()
}

func (s *Subscriber) Status() Status {
	state := s.State()
	return Status{
		Connected:  state == StateSubscribed && s.client.IsConnectionOpen(),
		Status:     state.String(),
		Broker:     s.cfg.MQTTBroker,
		Topic:      s.cfg.MQTTTopic,
		ClientID:   s.cfg.MQTTClientID,
		Received:   s.received.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

func (s *Subscriber) setState(v State) {
	s.mu.Lock()
	prev := s.state
	s.state = v
	s.mu.Unlock()

	if prev != v {
		s.logger.Debug("mqtt state change", "from", prev.String(), "to", v.String())
	}
	s.metrics.SetMQTTConnected(v == StateSubscribed)
}
