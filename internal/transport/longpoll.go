package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/codec"
)

// DefaultPollTimeout bounds how long an empty poll is held open.
const DefaultPollTimeout = 25 * time.Second

// SessionParam is the query parameter naming a long-poll session.
const SessionParam = "session"

// LongPoll serves the request/response flavour of the bridge: the script side
// POSTs newline-separated base64 messages, and the response body carries the
// native side's outbound messages in the same form.
//
// A request is answered as soon as outbound messages exist. A request that
// carried messages is also answered once neither side owes the other a reply.
// An empty request is held until PollTimeout.
type LongPoll struct {
	PollTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*LongPollSession
	logger   *zap.Logger
}

// NewLongPoll creates a handler with no sessions.
func NewLongPoll(logger *zap.Logger) *LongPoll {
	return &LongPoll{
		PollTimeout: DefaultPollTimeout,
		sessions:    make(map[string]*LongPollSession),
		logger:      logger.With(zap.String("component", "longpoll")),
	}
}

// Open creates a session. The returned transport is the native end.
func (lp *LongPoll) Open(queueSize int) *LongPollSession {
	s := &LongPollSession{
		ID:     uuid.NewString(),
		inbox:  make(chan codec.Message, queueSize),
		signal: make(chan struct{}),
		done:   make(chan struct{}),
		conv:   NewConversation(),
		owner:  lp,
	}

	lp.mu.Lock()
	lp.sessions[s.ID] = s
	lp.mu.Unlock()

	lp.logger.Debug("Session opened", zap.String("session", s.ID))
	return s
}

func (lp *LongPoll) session(id string) (*LongPollSession, bool) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	s, ok := lp.sessions[id]
	return s, ok
}

func (lp *LongPoll) remove(id string) {
	lp.mu.Lock()
	delete(lp.sessions, id)
	lp.mu.Unlock()
}

// ServeHTTP handles one poll.
func (lp *LongPoll) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := lp.session(r.URL.Query().Get(SessionParam))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	msgs, err := readFrames(r.Body)
	if err != nil {
		lp.logger.Warn("Malformed poll body", zap.String("session", s.ID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, msg := range msgs {
		select {
		case s.inbox <- msg:
		case <-s.done:
			http.Error(w, "session closed", http.StatusGone)
			return
		case <-ctx.Done():
			return
		}
	}

	out, err := s.await(ctx, len(msgs) > 0, lp.PollTimeout)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			http.Error(w, "session closed", http.StatusGone)
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	if err := writeFrames(w, out); err != nil {
		lp.logger.Debug("Failed to write poll response", zap.String("session", s.ID), zap.Error(err))
	}
}

// LongPollSession is the native end of one long-poll conversation.
type LongPollSession struct {
	ID string

	inbox chan codec.Message

	mu     sync.Mutex
	outbox []codec.Message
	signal chan struct{} // closed when outbox grows

	done  chan struct{}
	once  sync.Once
	conv  *Conversation
	owner *LongPoll
}

// Send queues msg for the next poll.
func (s *LongPollSession) Send(_ context.Context, msg codec.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.mu.Lock()
	s.outbox = append(s.outbox, msg)
	close(s.signal)
	s.signal = make(chan struct{})
	s.mu.Unlock()

	s.conv.ObserveSent(msg.Type)
	return nil
}

// Recv returns the next message posted by the script side.
func (s *LongPollSession) Recv(ctx context.Context) (codec.Message, error) {
	select {
	case msg := <-s.inbox:
		s.conv.ObserveReceived(msg.Type)
		return msg, nil
	case <-s.done:
		return codec.Message{}, ErrClosed
	case <-ctx.Done():
		return codec.Message{}, ctx.Err()
	}
}

// Close ends the session. Pending polls are answered with 410 Gone.
func (s *LongPollSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.owner.remove(s.ID)
	})
	return nil
}

// Conversation returns the request/reply balance seen by this session.
func (s *LongPollSession) Conversation() *Conversation {
	return s.conv
}

func (s *LongPollSession) take() ([]codec.Message, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outbox
	s.outbox = nil
	return out, s.signal
}

func (s *LongPollSession) await(ctx context.Context, carried bool, timeout time.Duration) ([]codec.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		// Take the wakeup channels before checking state so no change is missed.
		changed := s.conv.Changed()
		out, signal := s.take()
		if len(out) > 0 {
			return out, nil
		}
		if carried && s.conv.Done() {
			return nil, nil
		}

		select {
		case <-signal:
		case <-changed:
		case <-timer.C:
			return nil, nil
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LongPollClient is the script end of a long-poll conversation. It issues a
// request whenever it has messages to send or a receiver is waiting.
type LongPollClient struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	outbox []codec.Message
	demand int // blocked receivers not yet matched with a delivered message

	wake   chan struct{}
	in     chan inbound
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewLongPollClient starts polling url, which must already name the session.
func NewLongPollClient(url string, client *http.Client, logger *zap.Logger) *LongPollClient {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &LongPollClient{
		url:    url,
		client: client,
		wake:   make(chan struct{}, 1),
		in:     make(chan inbound, 64),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.With(zap.String("component", "longpoll-client")),
	}
	go c.loop(ctx)
	return c
}

// SessionURL joins a handler URL and a session id.
func SessionURL(base, id string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + SessionParam + "=" + id
}

func (c *LongPollClient) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Send queues msg for the next request.
func (c *LongPollClient) Send(_ context.Context, msg codec.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	c.outbox = append(c.outbox, msg)
	c.mu.Unlock()
	c.poke()
	return nil
}

// Recv returns the next message delivered by a poll.
func (c *LongPollClient) Recv(ctx context.Context) (codec.Message, error) {
	c.mu.Lock()
	if len(c.in) == 0 {
		c.demand++
		c.poke()
	}
	c.mu.Unlock()

	select {
	case in, ok := <-c.in:
		if !ok {
			return codec.Message{}, ErrClosed
		}
		return in.msg, in.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.demand > 0 {
			c.demand--
		}
		c.mu.Unlock()
		return codec.Message{}, ctx.Err()
	}
}

// Close stops polling.
func (c *LongPollClient) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
	})
	return nil
}

func (c *LongPollClient) next() ([]codec.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.outbox
	c.outbox = nil
	return out, len(out) > 0 || c.demand > 0
}

func (c *LongPollClient) delivered(n int) {
	c.mu.Lock()
	c.demand = max(0, c.demand-n)
	c.mu.Unlock()
}

func (c *LongPollClient) loop(ctx context.Context) {
	defer close(c.in)
	for {
		select {
		case <-c.wake:
		case <-ctx.Done():
			return
		}

		for {
			out, needed := c.next()
			if !needed {
				break
			}
			msgs, err := c.post(ctx, out)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("Poll failed", zap.Error(err))
					select {
					case c.in <- inbound{err: errors.Join(ErrClosed, err)}:
					case <-ctx.Done():
					}
				}
				return
			}
			for _, msg := range msgs {
				select {
				case c.in <- inbound{msg: msg}:
				case <-ctx.Done():
					return
				}
			}
			c.delivered(len(msgs))
		}
	}
}

func (c *LongPollClient) post(ctx context.Context, msgs []codec.Message) ([]codec.Message, error) {
	var body bytes.Buffer
	if err := writeFrames(&body, msgs); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned %s", resp.Status)
	}
	return readFrames(resp.Body)
}

func readFrames(r io.Reader) ([]codec.Message, error) {
	var msgs []codec.Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), DefaultReadLimit)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := DecodeText(line)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, scanner.Err()
}

func writeFrames(w io.Writer, msgs []codec.Message) error {
	for _, msg := range msgs {
		if _, err := io.WriteString(w, EncodeText(msg)+"\n"); err != nil {
			return err
		}
	}
	return nil
}
