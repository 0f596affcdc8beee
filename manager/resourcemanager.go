package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// ResourceManagerNotification reports one executor's terminal status to the
// cluster-wide resource manager.
type ResourceManagerNotification struct {
	PID      int    `json:"pid"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code,omitempty"`
	Signal   int    `json:"signal,omitempty"`
}

// ResourceManagerClient dials the resource manager's TCP endpoint and sends
// newline-delimited JSON notifications. A client built with skip=true (when
// --skip-resource-manager is set) has no connection, and Notify on it, or
// on a nil client, is a no-op.
type ResourceManagerClient struct {
	addr string
	conn net.Conn
	log  *zap.Logger
}

// DialResourceManager connects to address:port. Pass skip=true to build a
// client whose Notify calls are silently dropped.
func DialResourceManager(ctx context.Context, address string, port int, skip bool, log *zap.Logger) (*ResourceManagerClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if skip {
		log.Info("resource manager notifications disabled")
		return &ResourceManagerClient{log: log}, nil
	}

	addr := fmt.Sprintf("%s:%d", address, port)
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(KindConfigInvalid, "resource_manager_address", err)
	}
	return &ResourceManagerClient{addr: addr, conn: conn, log: log}, nil
}

// Notify sends one newline-delimited JSON notification. No-op on a
// skip-constructed client.
func (c *ResourceManagerClient) Notify(n ResourceManagerNotification) error {
	if c == nil || c.conn == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if _, err := c.conn.Write(payload); err != nil {
		c.log.Warn("resource manager notify failed", zap.String("addr", c.addr), zap.Error(err))
		return err
	}
	return nil
}

// Close closes the underlying connection, if any.
func (c *ResourceManagerClient) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
