// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/transport"
)

// ActionFunc processes a request for one action. raw is the full CBOR
// request, including the "action" field; the handler decodes its own
// fields from it.
//
// A nil result yields {ok: true}. A non-nil result is marshaled into
// the response's data field. Errors become {ok: false} responses whose
// code and backend_code come from the error's fault kind.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc processes a streaming action. After the request, the
// client may send further CBOR frames (read them with
// stream.Decoder), and the handler may send its response early with
// stream.Reply and then write frames with stream.Encoder.
//
// If the handler returns without calling Reply, the server replies
// with the returned result or error as for ActionFunc. Errors returned
// after Reply are logged; the connection closes.
type StreamFunc func(ctx context.Context, raw []byte, stream *Stream) (any, error)

// Response is the envelope of every socket response.
type Response struct {
	OK    bool   `cbor:"ok"`
	Error string `cbor:"error,omitempty"`

	// Code is the snake_case fault kind of a failure.
	Code string `cbor:"code,omitempty"`

	// BackendCode is the backend status code of a backend_error.
	BackendCode int `cbor:"backend_code,omitempty"`

	Data codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServerConfig configures a SocketServer.
type SocketServerConfig struct {
	Endpoint transport.Endpoint

	// MaxStreamBytes bounds how much a client may send on a streaming
	// connection after the request. Zero means DefaultMaxStreamBytes.
	MaxStreamBytes int64

	Logger *slog.Logger
}

// DefaultMaxStreamBytes is the stream read bound when none is
// configured.
const DefaultMaxStreamBytes = 1 << 30

// SocketServer serves the CBOR request-response protocol. Each
// connection carries exactly one request: the client writes a CBOR
// request, the server writes a CBOR response (preceded or followed by
// frames for streaming actions), then the connection closes.
//
// Actions are registered with Handle and HandleStream before Serve.
// Unknown actions receive an unsupported_operation response.
type SocketServer struct {
	endpoint       transport.Endpoint
	maxStreamBytes int64
	handlers       map[string]ActionFunc
	streams        map[string]StreamFunc
	logger         *slog.Logger

	ready chan struct{}
	addr  net.Addr

	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server for config.Endpoint.
func NewSocketServer(config SocketServerConfig) *SocketServer {
	maxStream := config.MaxStreamBytes
	if maxStream <= 0 {
		maxStream = DefaultMaxStreamBytes
	}
	return &SocketServer{
		endpoint:       config.Endpoint,
		maxStreamBytes: maxStream,
		handlers:       make(map[string]ActionFunc),
		streams:        make(map[string]StreamFunc),
		logger:         config.Logger,
		ready:          make(chan struct{}),
	}
}

// Handle registers a request-response action. Panics on duplicates.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.claim(action)
	s.handlers[action] = handler
}

// HandleStream registers a streaming action. Panics on duplicates.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	s.claim(action)
	s.streams[action] = handler
}

func (s *SocketServer) claim(action string) {
	_, plain := s.handlers[action]
	_, stream := s.streams[action]
	if plain || stream {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
}

// Actions returns the number of registered actions.
func (s *SocketServer) Actions() int {
	return len(s.handlers) + len(s.streams)
}

// Ready is closed once the listener is bound.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Valid after Ready is closed; useful
// with tcp://host:0.
func (s *SocketServer) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for active handlers. A Unix socket file is
// removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	listener, err := transport.Listen(s.endpoint)
	if err != nil {
		return err
	}
	defer func() {
		listener.Close()
		transport.Cleanup(s.endpoint)
	}()
	s.addr = listener.Addr()
	close(s.ready)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "endpoint", s.endpoint.String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout bounds how long the client may take to send its request.
const readTimeout = 30 * time.Second

// writeTimeout bounds writing one response or frame.
const writeTimeout = 10 * time.Second

// streamTimeout bounds a whole streaming exchange after the request.
const streamTimeout = 10 * time.Minute

// maxRequestSize bounds a single request. Payload bytes travel as
// streamed chunks, so requests stay small.
const maxRequestSize = 4 << 20

// limitedReader is io.LimitedReader with a limit that grows once the
// request turns out to be a stream.
type limitedReader struct {
	reader    io.Reader
	remaining int64
}

func (l *limitedReader) Read(buffer []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(buffer)) > l.remaining {
		buffer = buffer[:l.remaining]
	}
	n, err := l.reader.Read(buffer)
	l.remaining -= int64(n)
	return n, err
}

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting; the decoder is kept for any frames that
	// follow on a stream.
	limit := &limitedReader{reader: conn, remaining: maxRequestSize}
	decoder := codec.NewDecoder(limit)
	var raw codec.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fault.New(fault.TransportError, "invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fault.New(fault.TransportError, "invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, fault.New(fault.InvalidArgument, "missing required field: action"))
		return
	}

	if handler, exists := s.handlers[header.Action]; exists {
		result, err := handler(ctx, []byte(raw))
		s.finish(conn, header.Action, result, err)
		return
	}

	streamHandler, exists := s.streams[header.Action]
	if !exists {
		s.writeError(conn, fault.New(fault.UnsupportedOperation, "unknown action %q", header.Action))
		return
	}
	limit.remaining = s.maxStreamBytes
	conn.SetDeadline(time.Now().Add(streamTimeout))
	stream := &Stream{server: s, conn: conn, decoder: decoder, encoder: codec.NewEncoder(conn)}
	result, err := streamHandler(ctx, []byte(raw), stream)
	if stream.replied {
		if err != nil {
			s.logger.Debug("stream failed after reply", "action", header.Action, "error", err)
		}
		return
	}
	s.finish(conn, header.Action, result, err)
}

func (s *SocketServer) finish(conn net.Conn, action string, result any, err error) {
	if err != nil {
		s.logger.Debug("action failed", "action", action, "error", err)
		s.writeError(conn, err)
		return
	}
	s.writeSuccess(conn, result)
}

// errorResponse builds a failure envelope from err's fault kind.
func errorResponse(err error) Response {
	kind := fault.KindOf(err)
	return Response{
		OK:          false,
		Error:       err.Error(),
		Code:        kind.Code(),
		BackendCode: fault.BackendCode(err),
	}
}

func (s *SocketServer) writeError(conn net.Conn, err error) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if encodeErr := codec.NewEncoder(conn).Encode(errorResponse(err)); encodeErr != nil {
		s.logger.Debug("failed to write error response", "error", encodeErr)
	}
}

func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	response, err := successResponse(result)
	if err != nil {
		s.writeError(conn, err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}

func successResponse(result any) (Response, error) {
	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			return Response{}, fmt.Errorf("internal: marshaling response: %w", err)
		}
		response.Data = data
	}
	return response, nil
}

// Stream is the connection handed to a StreamFunc.
type Stream struct {
	server  *SocketServer
	conn    net.Conn
	decoder *codec.Decoder
	encoder *codec.Encoder
	replied bool
}

// Decoder reads the frames the client sent after its request.
func (s *Stream) Decoder() *codec.Decoder {
	return s.decoder
}

// Encoder writes frames after Reply.
func (s *Stream) Encoder() *codec.Encoder {
	return s.encoder
}

// Reply sends the success response now, so frames can follow it.
func (s *Stream) Reply(result any) error {
	if s.replied {
		return errors.New("service.Stream: Reply called twice")
	}
	response, err := successResponse(result)
	if err != nil {
		return err
	}
	s.replied = true
	if err := s.encoder.Encode(response); err != nil {
		return fault.New(fault.TransportError, "writing response: %v", err)
	}
	return nil
}
