package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/codec"
)

// DefaultReadLimit bounds one inbound websocket frame.
const DefaultReadLimit = 64 << 20

// WebSocketOptions configures a websocket transport.
type WebSocketOptions struct {
	// TextFraming sends base64 text frames instead of binary frames.
	TextFraming bool
	// ReadLimit bounds one inbound frame. Zero means DefaultReadLimit.
	ReadLimit int64
	// QueueSize buffers inbound messages. Zero means 64.
	QueueSize int
	Logger    *zap.Logger
}

type inbound struct {
	msg codec.Message
	err error
}

// WebSocket carries messages over one websocket connection.
type WebSocket struct {
	conn   *websocket.Conn
	opts   WebSocketOptions
	logger *zap.Logger
	in     chan inbound
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWebSocket starts reading from conn. The transport owns conn from now on.
func NewWebSocket(conn *websocket.Conn, opts WebSocketOptions) *WebSocket {
	if opts.ReadLimit == 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	conn.SetReadLimit(opts.ReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	ws := &WebSocket{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "websocket")),
		in:     make(chan inbound, opts.QueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ws.readLoop(ctx)
	return ws
}

func (ws *WebSocket) readLoop(ctx context.Context) {
	defer close(ws.in)
	for {
		typ, data, err := ws.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				ws.logger.Debug("Websocket read failed", zap.Error(err))
			}
			return
		}

		var msg codec.Message
		if typ == websocket.MessageText {
			msg, err = DecodeText(string(data))
		} else {
			msg, err = codec.ParseMessage(data)
		}

		select {
		case ws.in <- inbound{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Send writes msg as one frame.
func (ws *WebSocket) Send(ctx context.Context, msg codec.Message) error {
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}

	var err error
	if ws.opts.TextFraming {
		err = ws.conn.Write(ctx, websocket.MessageText, []byte(EncodeText(msg)))
	} else {
		err = ws.conn.Write(ctx, websocket.MessageBinary, msg.Marshal())
	}
	if err != nil && ctx.Err() == nil {
		return errors.Join(ErrClosed, err)
	}
	return err
}

// Recv returns the next inbound message.
func (ws *WebSocket) Recv(ctx context.Context) (codec.Message, error) {
	select {
	case in, ok := <-ws.in:
		if !ok {
			return codec.Message{}, ErrClosed
		}
		return in.msg, in.err
	case <-ctx.Done():
		return codec.Message{}, ctx.Err()
	}
}

// Close performs the closing handshake and stops the reader.
func (ws *WebSocket) Close() error {
	var err error
	ws.once.Do(func() {
		close(ws.done)
		err = ws.conn.Close(websocket.StatusNormalClosure, "")
		ws.cancel()
	})
	return err
}

// Dial connects to a websocket endpoint serving the other side.
func Dial(ctx context.Context, url string, opts WebSocketOptions) (*WebSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, opts), nil
}

// Accept upgrades an HTTP request to a websocket transport.
func Accept(w http.ResponseWriter, r *http.Request, opts WebSocketOptions) (*WebSocket, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, opts), nil
}
