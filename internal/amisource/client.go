package amisource

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/vsgroup/ami-kafka/internal/model"
)

const (
	// DefaultManagerAddr is the usual manager interface address.
	DefaultManagerAddr = "127.0.0.1:5038"

	defaultDialTimeout  = 5 * time.Second
	defaultLoginTimeout = 10 * time.Second
	defaultReconnectMax = 30 * time.Second

	bannerPrefix  = "Asterisk Call Manager/"
	loginActionID = "ami-kafka-login"
)

// ErrAuthentication is returned when the manager rejects the login.
var ErrAuthentication = errors.New("manager authentication failed")

// ClientConfig describes how to reach and log in to a manager interface.
type ClientConfig struct {
	Addr     string
	Username string
	Secret   string
	// Events is the event mask sent with the login, "on" when empty.
	Events string

	DialTimeout  time.Duration
	LoginTimeout time.Duration
	ReconnectMax time.Duration
	BufferSize   int
	MaxFrameSize int
	Logger       *zap.Logger
}

// Client streams events from a manager interface, reconnecting with
// exponential backoff until stopped.
type Client struct {
	conf   ClientConfig
	events chan model.Event
	logger *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	connected bool
}

func NewClient(conf ClientConfig) *Client {
	if conf.Addr == "" {
		conf.Addr = DefaultManagerAddr
	}
	if conf.Events == "" {
		conf.Events = "on"
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultDialTimeout
	}
	if conf.LoginTimeout <= 0 {
		conf.LoginTimeout = defaultLoginTimeout
	}
	if conf.ReconnectMax <= 0 {
		conf.ReconnectMax = defaultReconnectMax
	}
	if conf.BufferSize <= 0 {
		conf.BufferSize = DefaultEventChannelSize
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conf:   conf,
		events: make(chan model.Event, conf.BufferSize),
		logger: conf.Logger.With(zap.String("source", "ami"), zap.String("addr", conf.Addr)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the connection loop in the background.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *Client) run() {
	defer c.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(500*time.Millisecond, c.conf.ReconnectMax)
	b.MaxInterval = c.conf.ReconnectMax
	b.MaxElapsedTime = 0
	retry := backoff.WithContext(b, c.ctx)

	for {
		err := c.session()
		if c.ctx.Err() != nil {
			return
		}
		if err == nil {
			retry.Reset()
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		c.logger.Warn("manager connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to disconnect. It returns nil when
// an authenticated session ended, so the backoff restarts from the
// beginning.
func (c *Client) session() error {
	dialer := net.Dialer{Timeout: c.conf.DialTimeout}
	conn, err := dialer.DialContext(c.ctx, "tcp", c.conf.Addr)
	if err != nil {
		return errors.Wrap(err, "dial manager")
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	scanner := NewFrameScanner(conn, c.conf.MaxFrameSize)
	if err := c.login(conn, scanner); err != nil {
		return err
	}

	c.setConnected(true)
	defer c.setConnected(false)
	c.logger.Info("connected to manager")

	for {
		frame, err := scanner.Next()
		if err != nil {
			c.logger.Debug("manager stream ended", zap.Error(err))
			return nil
		}
		ev, ok := frame.Event(c.Name())
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return nil
		}
	}
}

func (c *Client) login(conn net.Conn, scanner *FrameScanner) error {
	_ = conn.SetDeadline(time.Now().Add(c.conf.LoginTimeout))
	defer func() { _ = conn.SetDeadline(time.Time{}) }()

	banner, err := scanner.ReadLine()
	if err != nil {
		return errors.Wrap(err, "read manager banner")
	}
	if !strings.HasPrefix(banner, bannerPrefix) {
		return errors.Newf("unexpected manager banner %q", banner)
	}

	action := fmt.Sprintf("Action: Login\r\nActionID: %s\r\nUsername: %s\r\nSecret: %s\r\nEvents: %s\r\n\r\n",
		loginActionID, c.conf.Username, c.conf.Secret, c.conf.Events)
	if _, err := conn.Write([]byte(action)); err != nil {
		return errors.Wrap(err, "send login")
	}

	for {
		frame, err := scanner.Next()
		if err != nil {
			return errors.Wrap(err, "read login response")
		}
		response := frame.Get("Response")
		if response == "" || frame.Get("ActionID") != loginActionID {
			continue
		}
		if !strings.EqualFold(response, "Success") {
			return errors.Wrapf(ErrAuthentication, "%s", frame.Get("Message"))
		}
		return nil
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Connected reports whether an authenticated session is active.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stop ends the connection loop and closes Events.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		close(c.events)
	})
}

func (c *Client) Events() <-chan model.Event { return c.events }

func (c *Client) Name() string { return "ami" }
