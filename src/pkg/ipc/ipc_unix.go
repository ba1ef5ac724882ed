//go:build !windows

package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	appsentry "github.com/rematch-coach/rematch-coach/src/pkg/sentry"
)

// UnixServer serves the bridge over a unix domain socket.
type UnixServer struct {
	socketPath   string
	listener     net.Listener
	connections  map[*connWrapper]struct{}
	connMu       sync.RWMutex
	onConnect    func(conn Conn)
	onMessage    func(conn Conn, msg *Message)
	onDisconnect func(conn Conn, err error)
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewServer(instanceID string) Server {
	return &UnixServer{
		socketPath:  GetSocketPath(instanceID),
		connections: make(map[*connWrapper]struct{}),
	}
}

func (s *UnixServer) Start(ctx context.Context) error {
	// A stale socket from a crashed run blocks the listen.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on unix socket: %w", err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

func (s *UnixServer) acceptLoop() {
	defer appsentry.Recover()
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				continue
			}
		}

		wrapper := newConnWrapper(conn)
		s.connMu.Lock()
		s.connections[wrapper] = struct{}{}
		s.connMu.Unlock()

		if s.onConnect != nil {
			s.onConnect(wrapper)
		}

		s.wg.Add(1)
		go s.handleConnection(wrapper)
	}
}

func (s *UnixServer) handleConnection(conn *connWrapper) {
	defer appsentry.Recover()
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		delete(s.connections, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msg, err := conn.Receive()
		if err != nil {
			if s.onDisconnect != nil {
				s.onDisconnect(conn, err)
			}
			return
		}

		if s.onMessage != nil {
			s.onMessage(conn, msg)
		}
	}
}

func (s *UnixServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.connMu.Lock()
	for conn := range s.connections {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	os.Remove(s.socketPath)

	return nil
}

func (s *UnixServer) OnConnect(handler func(conn Conn)) {
	s.onConnect = handler
}

func (s *UnixServer) OnMessage(handler func(conn Conn, msg *Message)) {
	s.onMessage = handler
}

func (s *UnixServer) OnDisconnect(handler func(conn Conn, err error)) {
	s.onDisconnect = handler
}

func (s *UnixServer) Broadcast(msg *Message) error {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	var lastErr error
	for conn := range s.connections {
		if err := conn.Send(msg); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// UnixClient connects to the bridge over a unix domain socket.
type UnixClient struct {
	socketPath   string
	conn         *connWrapper
	mu           sync.Mutex
	onMessage    func(msg *Message)
	onDisconnect func(err error)
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewClient(instanceID string) Client {
	return &UnixClient{
		socketPath: GetSocketPath(instanceID),
	}
}

func (c *UnixClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	conn, err := net.DialTimeout("unix", c.socketPath, DefaultConnectTimeout)
	if err != nil {
		return fmt.Errorf("connect to bridge: %w", err)
	}

	c.conn = newConnWrapper(conn)
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.receiveLoop()

	return nil
}

func (c *UnixClient) receiveLoop() {
	defer appsentry.Recover()
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		msg, err := c.conn.Receive()
		if err != nil {
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *UnixClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.wg.Wait()
	return nil
}

func (c *UnixClient) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.Send(msg)
}

func (c *UnixClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *UnixClient) OnMessage(handler func(msg *Message)) {
	c.onMessage = handler
}

func (c *UnixClient) OnDisconnect(handler func(err error)) {
	c.onDisconnect = handler
}
