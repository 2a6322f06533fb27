// Package grpctransport carries named-function RPCs between processes over
// gRPC, with pkg/transport/liveness tracking whether a peer locality is
// still reachable. It is a standalone server and client: pkg/transport's
// Runtime does not dispatch through it, and it offers no broadcast or
// handle-tracked asynchronous call. It is adapted from the teacher's gRPC server/client dial
// pattern (insecure by default, since authentication is out of scope here),
// with hand-written wire framing in place of protoc-generated stubs: request
// and response payloads travel as opaque bytes inside
// wrapperspb.BytesValue, which ships pre-built in google.golang.org/protobuf
// and needs no generated code.
package grpctransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/shadrt/shad/pkg/log"
	"github.com/shadrt/shad/pkg/transport/liveness"
)

const serviceName = "shad.transport.Dispatch"

// Handler executes one registered remote-callable function against payload
// and returns the encoded result.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (r *registry) register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[name] = h
}

func (r *registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// call is the wire shape of one RPC invocation: a registered function name
// plus its opaque argument bytes, gob-encoded by the caller.
type call struct {
	Name    string
	Payload []byte
}

// Server exposes a locality's registered remote-callable functions to
// peers over gRPC.
type Server struct {
	reg registry
	srv *grpc.Server
}

// NewServer builds an empty server; callers Register their functions
// before calling Serve.
func NewServer() *Server {
	s := &Server{}
	s.srv = grpc.NewServer()
	desc := grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Invoke", Handler: s.invokeHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "shad/transport.proto",
	}
	s.srv.RegisterService(&desc, s)
	return s
}

// Register installs fn under name so remote peers can invoke it by name.
func (s *Server) Register(name string, fn Handler) {
	s.reg.register(name, fn)
}

// Serve blocks, accepting connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	log.WithComponent("grpctransport").Info().Str("addr", lis.Addr().String()).Msg("serving")
	return s.srv.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.srv.GracefulStop()
}

func (s *Server) invokeHandler(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var req wrapperspb.BytesValue
	if err := dec(&req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	c, err := decodeCall(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode call: %v", err)
	}
	handler, ok := s.reg.lookup(c.Name)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no such remote function: %s", c.Name)
	}
	result, err := handler(ctx, c.Payload)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return wrapperspb.Bytes(result), nil
}

// Client dials one peer locality and invokes its registered functions by
// name, tracking reachability via liveness.
type Client struct {
	addr   string
	conn   *grpc.ClientConn
	status *liveness.Status
	cfg    liveness.Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Dial connects to a peer locality's gRPC server at addr. Authentication is
// out of scope (§1 lists security among the non-goals), so the connection is
// unauthenticated and unencrypted.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", addr, err)
	}
	c := &Client{
		addr:   addr,
		conn:   conn,
		status: liveness.NewStatus(),
		cfg:    liveness.DefaultConfig(),
		stopCh: make(chan struct{}),
	}
	go c.watchLiveness()
	return c, nil
}

func (c *Client) watchLiveness() {
	checker := liveness.NewTCPChecker(c.addr)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			result := checker.Check(ctx)
			cancel()
			c.status.Update(result, c.cfg)
			if !c.status.Reachable {
				log.WithComponent("grpctransport").Warn().Str("addr", c.addr).Msg("peer locality unreachable")
			}
		}
	}
}

// Reachable reports the peer's last-known liveness.
func (c *Client) Reachable() bool { return c.status.Reachable }

// Invoke calls the remote function named name with payload, blocking for
// the reply. An unreachable peer is a fatal programming condition per §7
// once dispatch actually reaches it; Invoke itself simply returns the RPC
// error and leaves that decision to the caller.
func (c *Client) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	req := encodeCall(call{Name: name, Payload: payload})

	var reply wrapperspb.BytesValue
	err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/Invoke", serviceName), wrapperspb.Bytes(req), &reply)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: invoke %s at %s: %w", name, c.addr, err)
	}
	return reply.GetValue(), nil
}

// Close tears down the client's connection and liveness probe.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return c.conn.Close()
}
