package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/clipsync/internal/engine"
	"go.klb.dev/clipsync/internal/ipc"
)

// Client talks to a daemon's control socket.
type Client struct {
	path string
	conn *grpc.ClientConn
	http *http.Client
}

// Dial prepares a client for the socket at path. No I/O happens until the
// first call. No auth: the socket is local and owner-restricted by the OS.
func Dial(path string) (*Client, error) {
	dial := func(ctx context.Context, _ string) (net.Conn, error) {
		return ipc.Dial(ctx, path)
	}
	conn, err := grpc.NewClient("passthrough:///"+ServiceName,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dial),
	)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	return &Client{
		path: path,
		conn: conn,
		http: &http.Client{Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return ipc.Dial(ctx, path)
			},
		}},
	}, nil
}

// Close releases the client's connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return c.conn.Close()
}

// Health returns the link health.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// WatchHealth calls fn for the current health and every change until ctx
// ends or the daemon goes away.
func (c *Client) WatchHealth(ctx context.Context, fn func(healthpb.HealthCheckResponse_ServingStatus)) error {
	stream, err := healthpb.NewHealthClient(c.conn).Watch(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return err
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(resp.GetStatus())
	}
}

// Status fetches the daemon's status snapshot.
func (c *Client) Status(ctx context.Context) (engine.Status, error) {
	var st engine.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ServiceName+StatusPath, nil)
	if err != nil {
		return st, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, fmt.Errorf("status via %s: %w", c.path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return st, fmt.Errorf("status: %s: %s", resp.Status, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("status decode: %w", err)
	}
	return st, nil
}
