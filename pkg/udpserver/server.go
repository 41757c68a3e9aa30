// Package udpserver implements the receive/send loop feeding the
// dispatcher: a single RX thread pinned to one CPU, bounded request
// buffers capped at 1400 bytes, and worker threads pinned to their own
// CPUs that parse requests, resolve a backend, and reply.
package udpserver

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dengwxn/nexus/internal/metrics"
	"github.com/dengwxn/nexus/pkg/queue"
)

const popTimeout = 50 * time.Millisecond

// BackendResolver is the subset of dispatcher.Dispatcher the server needs.
type BackendResolver interface {
	Resolve(modelSessionID string) (endpoint string, found bool)
}

// RequestContext is a freshly-allocated, fixed-size copy of one inbound
// datagram plus its source address and receipt time.
type RequestContext struct {
	Addr       *net.UDPAddr
	Payload    []byte
	ReceivedAt time.Time
}

// Config controls socket binding and thread placement.
type Config struct {
	ListenAddr string
	RXCPU      int   // -1 = no pinning
	WorkerCPUs []int // applied in order to worker threads; empty = no pinning
	NumWorkers int
	QueueDepth int
}

// Stats is a point-in-time snapshot of server activity.
type Stats struct {
	Received  uint64
	Dropped   uint64
	ParseErrs uint64
	Replied   uint64
}

// Server is the UDP request/reply loop feeding a Dispatcher.
type Server struct {
	cfg      Config
	resolver BackendResolver
	log      *zap.Logger

	conn    *net.UDPConn
	inQueue *queue.Bounded[*RequestContext]

	running atomic.Bool
	wg      sync.WaitGroup

	received  atomic.Uint64
	parseErrs atomic.Uint64
	replied   atomic.Uint64
}

// New constructs a Server bound to resolver. Call Start to open sockets
// and launch goroutines.
func New(cfg Config, resolver BackendResolver, log *zap.Logger) *Server {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		log:      log,
		inQueue:  queue.NewBounded[*RequestContext](cfg.QueueDepth),
	}
}

// Start opens the RX/TX socket and launches the RX thread and worker
// threads. It returns once the socket is bound; goroutines run until ctx
// is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.conn = conn
	s.running.Store(true)

	s.wg.Add(1)
	go s.rxLoop()

	for i := 0; i < s.cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Server) rxLoop() {
	defer s.wg.Done()
	if err := pinCurrentThread(s.cfg.RXCPU); err != nil {
		s.log.Warn("rx thread pin failed", zap.Error(err))
	}
	buf := make([]byte, MaxPayloadBytes)
	for s.running.Load() {
		s.conn.SetReadDeadline(time.Now().Add(popTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				return
			}
			continue
		}
		s.received.Add(1)
		metrics.UDPReceived.Inc()
		payload := make([]byte, n)
		copy(payload, buf[:n])
		rc := &RequestContext{Addr: addr, Payload: payload, ReceivedAt: time.Now()}
		if !s.inQueue.Push(rc) {
			metrics.UDPDropped.Inc()
			s.log.Debug("udp request queue full, dropping", zap.Stringer("addr", addr))
		}
	}
}

func (s *Server) workerLoop(id int) {
	defer s.wg.Done()
	if len(s.cfg.WorkerCPUs) > 0 {
		cpu := s.cfg.WorkerCPUs[id%len(s.cfg.WorkerCPUs)]
		if err := pinCurrentThread(cpu); err != nil {
			s.log.Warn("worker thread pin failed", zap.Int("worker", id), zap.Error(err))
		}
	}
	for s.running.Load() {
		rc, ok := s.inQueue.PopTimeout(popTimeout)
		if !ok {
			continue
		}
		s.handle(rc)
	}
}

func (s *Server) handle(rc *RequestContext) {
	req, err := ParseRequest(rc.Payload)
	if err != nil {
		s.parseErrs.Add(1)
		metrics.UDPParseErrors.Inc()
		s.send(rc.Addr, Reply{Status: StatusParseError})
		return
	}
	endpoint, found := s.resolver.Resolve(req.ModelSessionID)
	if !found {
		s.send(rc.Addr, Reply{RequestID: req.RequestID, Status: StatusNotFound})
		return
	}
	s.send(rc.Addr, Reply{RequestID: req.RequestID, BackendEndpoint: endpoint, Status: StatusOK})
}

func (s *Server) send(addr *net.UDPAddr, reply Reply) {
	buf := EncodeReply(reply)
	if _, err := s.conn.WriteToUDP(buf, addr); err != nil {
		s.log.Debug("udp reply send failed", zap.Error(err))
		return
	}
	s.replied.Add(1)
	metrics.UDPReplied.Inc()
}

// Stop clears the running flag, closes the socket to unblock any pending
// read, and joins the RX and worker goroutines. Workers drain or discard
// in-flight requests rather than blocking shutdown on them.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
}

// Snapshot returns current server counters.
func (s *Server) Snapshot() Stats {
	qs := s.inQueue.Stats()
	return Stats{
		Received:  s.received.Load(),
		Dropped:   qs.Dropped,
		ParseErrs: s.parseErrs.Load(),
		Replied:   s.replied.Load(),
	}
}
