package teltonika

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"awareness-svr/internal/feed"
	"awareness-svr/internal/observability"
)

const (
	maxFrameLen = 64 * 1024
	idleTimeout = 10 * time.Minute
)

// Server accepts Teltonika tracker connections and turns their AVL records
// into positions keyed by IMEI.
type Server struct {
	*feed.Base
	addr   string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]string
	wg    sync.WaitGroup
}

func NewServer(addr string, logger *slog.Logger) *Server {
	return &Server{
		Base:   feed.NewBase("teltonika"),
		addr:   addr,
		logger: logger.With("component", "teltonika"),
		now:    time.Now,
		conns:  map[net.Conn]string{},
	}
}

// Addr is the bound listener address, nil before OnStart.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// OnStart binds the listener even while the feed is disabled so it can be
// switched on at runtime; frames received while disabled are not acked.
func (s *Server) OnStart(ctx context.Context, sink feed.Sink) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("error starting TCP server: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("TCP server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx, ln, sink)
	}()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	return nil
}

func (s *Server) OnStop() {
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, sink feed.Sink) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		observability.TCPConnections.Inc()

		s.mu.Lock()
		s.conns[conn] = ""
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.handleConnection(conn, sink)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn, sink feed.Sink) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}
	br := bufio.NewReader(conn)
	remote := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(s.now().Add(idleTimeout))
	imei, err := readHandshake(br)
	if err != nil {
		s.logger.Warn("handshake failed", "remote", remote, "err", err)
		_, _ = conn.Write([]byte{0x00})
		return
	}
	if _, err := conn.Write([]byte{0x01}); err != nil {
		return
	}
	observability.HandshakeOK.Inc()
	s.mu.Lock()
	s.conns[conn] = imei
	s.mu.Unlock()
	log := s.logger.With("imei", imei, "remote", remote)
	log.Info("IMEI detected")
	defer log.Info("device disconnected")

	for {
		_ = conn.SetReadDeadline(s.now().Add(idleTimeout))
		frame, err := readFrame(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn("read error", "err", err)
			}
			return
		}

		start := time.Now()
		pkt, err := ParseAVL(frame)
		observability.ObserveParseLatency(start)
		if err != nil {
			observability.ParseErrors.Inc()
			log.Warn("parse failed", "err", err, "bytes", len(frame))
			s.Fail(sink, fmt.Errorf("%s: %w", imei, err))
			// zero ack makes the device resend
			if err := writeAck(conn, 0); err != nil {
				return
			}
			continue
		}

		if !s.Enabled() {
			// the device keeps its records buffered until the feed is back on
			log.Debug("feed disabled, frame not acknowledged", "records", len(pkt.Records))
			if err := writeAck(conn, 0); err != nil {
				return
			}
			continue
		}

		stored := 0
		for _, p := range ToPositions(imei, pkt, s.now()) {
			if s.Push(sink, p) {
				stored++
			}
		}
		log.Debug("AVL frame", "codec", pkt.CodecID, "records", len(pkt.Records), "stored", stored)

		if err := writeAck(conn, len(pkt.Records)); err != nil {
			return
		}
		observability.RecordsAck.Add(float64(len(pkt.Records)))
	}
}

// readHandshake reads the 2-byte length prefixed ASCII IMEI.
func readHandshake(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n == 0 || n > 32 {
		return "", fmt.Errorf("bad IMEI length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	for _, c := range buf {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("IMEI %q is not numeric", buf)
		}
	}
	return string(buf), nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != 0 {
		return nil, ErrPreamble
	}
	n := int(binary.BigEndian.Uint32(hdr[4:8]))
	if n > maxFrameLen {
		return nil, fmt.Errorf("frame too large: %d", n)
	}
	frame := make([]byte, 8+n+4)
	copy(frame, hdr[:])
	if _, err := io.ReadFull(r, frame[8:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func writeAck(w io.Writer, n int) error {
	var ack [4]byte
	binary.BigEndian.PutUint32(ack[:], uint32(n))
	_, err := w.Write(ack[:])
	return err
}
