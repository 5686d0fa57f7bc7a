package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Pool hands out agent clients, keeping one connection per agent address
type Pool struct {
	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	opts   []grpc.DialOption
	closed bool
}

// NewPool creates a pool. Connections are plaintext unless opts carry
// transport credentials.
func NewPool(opts ...grpc.DialOption) *Pool {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor()),
	}
	return &Pool{
		conns: make(map[string]*grpc.ClientConn),
		opts:  append(base, opts...),
	}
}

// Dial returns a client for the agent at addr. Connections are created lazily
// and reused.
func (p *Pool) Dial(ctx context.Context, addr string) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("agent pool is closed")
	}
	if conn, ok := p.conns[addr]; ok {
		return NewGRPCClient(conn), nil
	}

	conn, err := grpc.NewClient(addr, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent connection to %s: %w", addr, err)
	}
	p.conns[addr] = conn
	return NewGRPCClient(conn), nil
}

// Close closes every pooled connection
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for addr, conn := range p.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(p.conns, addr)
	}
	p.closed = true
	return errors.Join(errs...)
}
