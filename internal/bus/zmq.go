package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
)

// ZMQConfig holds configuration for a ZeroMQ broker bridge. Telemetry is
// read from a SUB socket as [topic, payload] frames. Publishes go over a REQ
// socket as [topic, payload]; the bridge replies "ok" once it has accepted
// the message, or any other text as the rejection reason.
type ZMQConfig struct {
	EventURL          string // SUB socket for inbound messages
	CommandURL        string // REQ socket for acknowledged publishes
	PublishTimeout    time.Duration
	ReconnectInterval time.Duration
	Logger            *slog.Logger
}

// DefaultZMQConfig returns default configuration
func DefaultZMQConfig() ZMQConfig {
	return ZMQConfig{
		EventURL:          "ipc:///tmp/streetlight_event",
		CommandURL:        "ipc:///tmp/streetlight_command",
		PublishTimeout:    5 * time.Second,
		ReconnectInterval: 2 * time.Second,
	}
}

const ackOK = "ok"

// ZMQClient is a Client backed by ZeroMQ sockets
type ZMQClient struct {
	config ZMQConfig
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	eventSock zmq4.Socket
	handlers  map[string]Handler

	// cmdMu serializes REQ/REP round trips
	cmdMu   sync.Mutex
	cmdSock zmq4.Socket

	connected atomic.Bool
}

// NewZMQClient creates a ZeroMQ client
func NewZMQClient(config ZMQConfig) *ZMQClient {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = DefaultZMQConfig().ReconnectInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ZMQClient{
		config:   config,
		log:      loggerOrDefault(config.Logger).With("component", "zmq"),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
	}
}

// Connect dials both sockets and starts the reconnect loop. A failed first
// dial is returned, but the loop keeps retrying until Close.
func (c *ZMQClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("zmq client already running")
	}
	c.running = true
	c.mu.Unlock()

	err := c.dial()

	c.wg.Add(1)
	go c.reconnectLoop()

	if err != nil {
		return err
	}
	c.log.Info("zmq client started", "event", c.config.EventURL, "command", c.config.CommandURL)
	return nil
}

// dial opens the SUB and REQ sockets and starts an event loop on the SUB
func (c *ZMQClient) dial() error {
	eventSock := zmq4.NewSub(c.ctx)
	if err := eventSock.Dial(c.config.EventURL); err != nil {
		eventSock.Close()
		return fmt.Errorf("failed to connect event socket: %w", err)
	}

	c.mu.Lock()
	for topic := range c.handlers {
		if err := eventSock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			c.mu.Unlock()
			eventSock.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	c.eventSock = eventSock
	c.mu.Unlock()

	cmdSock, err := c.dialCommand()
	if err != nil {
		c.mu.Lock()
		c.eventSock = nil
		c.mu.Unlock()
		eventSock.Close()
		return err
	}
	c.cmdMu.Lock()
	c.cmdSock = cmdSock
	c.cmdMu.Unlock()

	c.connected.Store(true)

	c.wg.Add(1)
	go c.eventLoop(eventSock)
	return nil
}

func (c *ZMQClient) dialCommand() (zmq4.Socket, error) {
	sock := zmq4.NewReq(c.ctx)
	if err := sock.Dial(c.config.CommandURL); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to connect command socket: %w", err)
	}
	return sock, nil
}

// teardown closes whatever sockets are open
func (c *ZMQClient) teardown() {
	c.connected.Store(false)

	c.mu.Lock()
	if c.eventSock != nil {
		c.eventSock.Close()
		c.eventSock = nil
	}
	c.mu.Unlock()

	c.cmdMu.Lock()
	if c.cmdSock != nil {
		c.cmdSock.Close()
		c.cmdSock = nil
	}
	c.cmdMu.Unlock()
}

// reconnectLoop redials both sockets while the client is disconnected
func (c *ZMQClient) reconnectLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.connected.Load() {
				continue
			}
			c.teardown()
			if err := c.dial(); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.log.Warn("zmq reconnect failed", "error", err)
				continue
			}
			c.log.Info("zmq client reconnected", "event", c.config.EventURL, "command", c.config.CommandURL)
		}
	}
}

// Subscribe registers h for messages whose topic frame equals topic
func (c *ZMQClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[topic] = h
	if c.eventSock != nil {
		if err := c.eventSock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

// Publish sends [topic, payload] over the command socket and resolves the
// Ack from the bridge's reply
func (c *ZMQClient) Publish(topic string, payload []byte) *Ack {
	if !c.connected.Load() {
		return Resolved(ErrNotConnected)
	}

	ack := NewAck()
	go func() {
		ack.Resolve(c.roundTrip(zmq4.NewMsgFrom([]byte(topic), payload)))
	}()
	return ack
}

func (c *ZMQClient) roundTrip(msg zmq4.Msg) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	sock := c.cmdSock
	if sock == nil {
		return ErrNotConnected
	}

	type result struct {
		msg zmq4.Msg
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		if err := sock.Send(msg); err != nil {
			resCh <- result{err: fmt.Errorf("failed to send: %w", err)}
			return
		}
		reply, err := sock.Recv()
		resCh <- result{msg: reply, err: err}
	}()

	timer := time.NewTimer(c.config.PublishTimeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		return parseReply(res.msg)
	case <-timer.C:
		// A REQ socket cannot send again until it receives, so replace it.
		sock.Close()
		fresh, err := c.dialCommand()
		if err != nil {
			// reconnectLoop picks it up from here
			c.log.Error("failed to redial command socket", "error", err)
			c.cmdSock = nil
			c.connected.Store(false)
		} else {
			c.cmdSock = fresh
		}
		return ErrPublishTimeout
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func parseReply(msg zmq4.Msg) error {
	if len(msg.Frames) == 0 {
		return errors.New("empty acknowledgment from bridge")
	}
	reply := strings.TrimSpace(string(msg.Frames[0]))
	if reply == ackOK {
		return nil
	}
	return fmt.Errorf("bridge rejected publish: %s", reply)
}

// eventLoop receives messages from sock until it is replaced or closed
func (c *ZMQClient) eventLoop(sock zmq4.Socket) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		msg, err := sock.Recv()
		if err != nil {
			if c.ctx.Err() != nil || !c.current(sock) {
				return
			}
			c.log.Warn("event receive error", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if len(msg.Frames) < 2 {
			c.log.Warn("dropping event without topic frame", "frames", len(msg.Frames))
			continue
		}

		topic := string(msg.Frames[0])
		c.mu.Lock()
		h := c.handlers[topic]
		c.mu.Unlock()
		if h == nil {
			continue
		}

		deliver(c.log, h, Message{Topic: topic, Payload: msg.Frames[1], ReceivedAt: time.Now()})
	}
}

func (c *ZMQClient) current(sock zmq4.Socket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eventSock == sock
}

// IsConnected reports whether both sockets are up
func (c *ZMQClient) IsConnected() bool {
	return c.connected.Load()
}

// Close stops the event and reconnect loops and closes the sockets
func (c *ZMQClient) Close() error {
	c.cancel()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.teardown()
	c.wg.Wait()
	// a dial racing the cancel may have left sockets behind
	c.teardown()

	c.log.Info("zmq client stopped")
	return nil
}
