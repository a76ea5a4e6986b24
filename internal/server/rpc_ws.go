package server

import (
	"context"

	cws "github.com/coder/websocket"
)

// WSChannel adapts a coder/websocket.Conn to the jrpc2 Channel interface.
// The daemon and websocket clients both use it.
type WSChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

// NewWSChannel wraps conn. Reads and writes fail once ctx is done.
func NewWSChannel(ctx context.Context, conn *cws.Conn) *WSChannel {
	return &WSChannel{conn: conn, ctx: ctx}
}

// Send writes a JSON-RPC message to the WebSocket connection.
func (c *WSChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

// Recv reads a JSON-RPC message from the WebSocket connection.
func (c *WSChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

// Close shuts down the WebSocket connection with a normal closure status.
func (c *WSChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}
