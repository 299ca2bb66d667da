package session

import (
	"context"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/heartlink/heartlink-realtime/internal/wire"
)

// Transport is one established bidirectional connection. The Manager owns
// the handle exclusively; no other component writes to it.
type Transport interface {
	Send(ctx context.Context, env wire.Envelope) error
	Receive(ctx context.Context) (wire.Envelope, error)
	Close(reason string) error
}

// Dialer establishes a Transport. Tests inject scripted fakes here.
type Dialer func(ctx context.Context, endpoint string) (Transport, error)

// ErrTransportClosed reports an orderly remote close.
var ErrTransportClosed = errors.New("transport closed")

type wsTransport struct {
	conn *websocket.Conn
}

// DialWebsocket is the production Dialer built on coder/websocket.
func DialWebsocket(ctx context.Context, endpoint string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Send(ctx context.Context, env wire.Envelope) error {
	return wsjson.Write(ctx, t.conn, env)
}

func (t *wsTransport) Receive(ctx context.Context) (wire.Envelope, error) {
	var env wire.Envelope
	if err := wsjson.Read(ctx, t.conn, &env); err != nil {
		if errors.Is(err, io.EOF) {
			return env, ErrTransportClosed
		}
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return env, ErrTransportClosed
		}
		return env, err
	}
	return env, nil
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
