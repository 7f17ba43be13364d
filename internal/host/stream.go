package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ErrTransportClosed is returned by calls on a closed StreamTransport.
var ErrTransportClosed = errors.New("transport closed")

// frame is one message on a stream. Requests carry Method; replies carry
// either Body or Error and echo the request ID.
type frame struct {
	ID     uint64          `cbor:"1,keyasint"`
	Method string          `cbor:"2,keyasint,omitempty"`
	Body   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Error  string          `cbor:"4,keyasint,omitempty"`
}

// StreamTransport multiplexes calls over a CBOR frame stream. Replies may
// arrive in any order.
//
// Thread-safety: Call is safe for concurrent use.
type StreamTransport struct {
	conn io.ReadWriteCloser

	writeMu sync.Mutex
	enc     *cbor.Encoder

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan frame
	err     error
	done    chan struct{}
}

// NewStreamTransport starts reading replies from conn.
func NewStreamTransport(conn io.ReadWriteCloser) *StreamTransport {
	t := &StreamTransport{
		conn:    conn,
		enc:     encMode.NewEncoder(conn),
		pending: make(map[uint64]chan frame),
		done:    make(chan struct{}),
	}
	go t.readLoop(decMode.NewDecoder(conn))
	return t
}

// Call implements Transport.
func (t *StreamTransport) Call(ctx context.Context, method string, body []byte) ([]byte, error) {
	ch := make(chan frame, 1)
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return nil, err
	}
	t.nextID++
	id := t.nextID
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	err := t.enc.Encode(frame{ID: id, Method: method, Body: body})
	t.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case f := <-ch:
		if f.Error != "" {
			return nil, &RemoteError{Method: method, Message: f.Error}
		}
		return f.Body, nil
	case <-t.done:
		return nil, t.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the stream and fails pending calls.
func (t *StreamTransport) Close() error {
	t.fail(ErrTransportClosed)
	err := t.conn.Close()
	<-t.done
	return err
}

func (t *StreamTransport) readLoop(dec *cbor.Decoder) {
	defer close(t.done)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrTransportClosed
			}
			t.fail(err)
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[f.ID]
		t.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (t *StreamTransport) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

func (t *StreamTransport) closedErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Serve reads request frames from conn and answers them with srv until
// the stream ends. Requests are handled concurrently. Cancelling ctx
// cancels in-flight handlers; the caller closes conn to stop reading.
func Serve(ctx context.Context, conn io.ReadWriter, srv *Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dec := decMode.NewDecoder(conn)
	enc := encMode.NewEncoder(conn)
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	for {
		var req frame
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		wg.Add(1)
		go func(req frame) {
			defer wg.Done()
			reply := frame{ID: req.ID}
			body, err := srv.Handle(ctx, req.Method, req.Body)
			if err != nil {
				reply.Error = err.Error()
			} else {
				reply.Body = body
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := enc.Encode(reply); err != nil {
				srv.logger.Warn("write reply failed", "method", req.Method, "error", err)
			}
		}(req)
	}
}
