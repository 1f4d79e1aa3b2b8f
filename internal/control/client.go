package control

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client sends one request per call to a control socket.
type Client struct {
	Addr  string
	Token string
}

func (c *Client) Command(ctx context.Context, code int) (Message, error) {
	return c.roundTrip(ctx, Message{Type: TypeCommand, Code: code})
}

func (c *Client) Status(ctx context.Context) (Message, error) {
	return c.roundTrip(ctx, Message{Type: TypeStatus})
}

func (c *Client) roundTrip(ctx context.Context, req Message) (Message, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, URL(c.Addr, c.Token), nil)
	if err != nil {
		if resp != nil {
			return Message{}, fmt.Errorf("dial control socket: %s: %w", resp.Status, err)
		}
		return Message{}, fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	req.RequestID = uuid.NewString()
	data, err := encodeMessage(req)
	if err != nil {
		return Message{}, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return Message{}, err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		reply, err := decodeMessage(data)
		if err != nil {
			return Message{}, fmt.Errorf("decode reply: %w", err)
		}
		if reply.RequestID != req.RequestID {
			continue
		}
		if reply.Type == TypeError || reply.Status == "failed" {
			return reply, fmt.Errorf("control request %s failed: %s", req.Type, reply.Message)
		}
		return reply, nil
	}
}
