package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/headband-recorder/internal/config"
	"github.com/skypro1111/headband-recorder/internal/metrics"
)

// UDPServer receives relayed sensor notifications. Each datagram is one
// notification prefixed with its sensor id byte. Datagrams are sharded to
// workers by sensor id, so frames of one sensor are recorded in arrival order.
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	ingest  *Ingest

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// One queue per worker
	queues []chan *incomingDatagram

	datagramsReceived uint64
	datagramsDropped  uint64
	mu                sync.RWMutex
}

// incomingDatagram represents a received datagram with metadata
type incomingDatagram struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, m *metrics.Metrics, ingest *Ingest) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	workers := max(cfg.Workers, 1)
	queues := make([]chan *incomingDatagram, workers)
	for i := range queues {
		queues[i] = make(chan *incomingDatagram, cfg.QueueSize)
	}

	return &UDPServer{
		config:  cfg,
		logger:  logger,
		metrics: m,
		ingest:  ingest,
		ctx:     ctx,
		cancel:  cancel,
		queues:  queues,
	}
}

// queueFor returns the worker queue owning the datagram's sensor
func (s *UDPServer) queueFor(data []byte) chan *incomingDatagram {
	if len(data) == 0 {
		return s.queues[0]
	}
	return s.queues[int(data[0])%len(s.queues)]
}

// queued returns the number of datagrams waiting across all queues
func (s *UDPServer) queued() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

// Start begins listening for datagrams
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize * s.config.QueueSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", len(s.queues)),
	)

	for i := range s.queues {
		s.wg.Add(1)
		go s.datagramProcessor(i)
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, useful when listening on port 0
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server after queued datagrams are processed
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// The receive loop is the only sender and closes the queues on exit
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("datagrams_dropped", stats.DatagramsDropped),
		slog.Uint64("frames_decoded", stats.FramesDecoded),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	defer func() {
		for _, q := range s.queues {
			close(q)
		}
	}()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.datagramsReceived++
		s.mu.Unlock()

		// The read buffer is reused
		data := make([]byte, n)
		copy(data, buffer[:n])

		datagram := &incomingDatagram{
			data:       data,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.queueFor(data) <- datagram:
			s.metrics.SetQueueSize(s.queued())
		default:
			s.mu.Lock()
			s.datagramsDropped++
			s.mu.Unlock()
			s.metrics.RecordDatagramDropped()

			s.logger.Warn("Frame processing queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("datagram_size", n),
			)
		}
	}
}

// datagramProcessor drains its worker queue
func (s *UDPServer) datagramProcessor(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Datagram processor started", slog.Int("worker_id", workerID))

	for datagram := range s.queues[workerID] {
		s.metrics.SetQueueSize(s.queued())

		if _, err := s.ingest.HandleDatagram(datagram.data, datagram.timestamp); err != nil {
			s.logger.Debug("Datagram rejected",
				slog.String("remote_addr", datagram.remoteAddr.String()),
				slog.Int("datagram_size", len(datagram.data)),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
			)
		}
	}

	s.logger.Debug("Datagram processor stopped", slog.Int("worker_id", workerID))
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	received := s.datagramsReceived
	dropped := s.datagramsDropped
	s.mu.RUnlock()

	return ServerStatistics{
		DatagramsReceived: received,
		DatagramsDropped:  dropped,
		QueueSize:         uint64(s.queued()),
		QueueCapacity:     uint64(len(s.queues) * s.config.QueueSize),
		IngestStatistics:  s.ingest.Statistics(),
	}
}

// ServerStatistics represents relay listener counters
type ServerStatistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	DatagramsDropped  uint64 `json:"datagrams_dropped"`
	QueueSize         uint64 `json:"queue_size"`
	QueueCapacity     uint64 `json:"queue_capacity"`
	IngestStatistics
}
