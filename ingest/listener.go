package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"guardian/config"
	"guardian/metrics"
	"guardian/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxTCPConnections is the default maximum number of concurrent TCP connections
	DefaultMaxTCPConnections = 1000
	// DefaultMaxConnectionsPerIP keeps one peer from exhausting the pool
	DefaultMaxConnectionsPerIP = 10

	tcpIdleTimeout = 5 * time.Minute
	udpBufferSize  = 65536
)

// SyslogListener receives syslog over UDP and TCP and hands parsed lines
// to a Batcher.
type SyslogListener struct {
	cfg     config.IngestConfig
	batcher *Batcher
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	udpConn     net.PacketConn
	tcpListener net.Listener

	connSemaphore chan struct{}
	ipMu          sync.Mutex
	ipConnections map[string]int
	connsMu       sync.Mutex
	conns         map[net.Conn]struct{}

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup // socket readers
	batcherDone chan struct{}
	stop        sync.Once
}

// NewSyslogListener creates a listener. Nothing is bound until Start.
func NewSyslogListener(cfg config.IngestConfig, submitter Submitter, logger *zap.SugaredLogger) *SyslogListener {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxTCPConnections
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		cfg.MaxConnectionsPerIP = DefaultMaxConnectionsPerIP
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 500
	}
	return &SyslogListener{
		cfg:           cfg,
		batcher:       NewBatcher(submitter, cfg.BatchWindow, cfg.BatchMaxLines, maxBatchBytes, logger),
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		logger:        logger,
		connSemaphore: make(chan struct{}, cfg.MaxConnections),
		ipConnections: make(map[string]int),
		conns:         make(map[net.Conn]struct{}),
	}
}

// maxBatchBytes keeps a batch under the API's raw log limit.
const maxBatchBytes = 512 * 1024

// Start binds the configured ports and starts serving. A port of 0 in the
// config disables that protocol; use UDPAddr/TCPAddr for the bound addresses.
func (l *SyslogListener) Start(ctx context.Context) error {
	if l.cfg.UDPPort > 0 {
		conn, err := net.ListenPacket("udp", net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.cfg.UDPPort)))
		if err != nil {
			return fmt.Errorf("failed to start syslog UDP listener: %w", err)
		}
		l.udpConn = conn
	}
	if l.cfg.TCPPort > 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.cfg.TCPPort)))
		if err != nil {
			if l.udpConn != nil {
				_ = l.udpConn.Close()
			}
			return fmt.Errorf("failed to start syslog TCP listener: %w", err)
		}
		l.tcpListener = ln
	}
	return l.serve(ctx)
}

// StartOn serves on already-bound sockets. Either may be nil.
func (l *SyslogListener) StartOn(ctx context.Context, udp net.PacketConn, tcp net.Listener) error {
	l.udpConn = udp
	l.tcpListener = tcp
	return l.serve(ctx)
}

func (l *SyslogListener) serve(ctx context.Context) error {
	if l.udpConn == nil && l.tcpListener == nil {
		return errors.New("syslog listener has no UDP or TCP socket")
	}
	l.ctx, l.cancel = context.WithCancel(ctx)

	// the batcher outlives the sockets long enough to flush what they read
	flushCtx := context.WithoutCancel(ctx)
	l.batcherDone = make(chan struct{})
	goroutine.Go("syslog-batcher", l.logger, func() {
		defer close(l.batcherDone)
		l.batcher.Run(l.ctx, flushCtx)
	})

	if l.udpConn != nil {
		l.logger.Infow("Syslog UDP listener started", "addr", l.udpConn.LocalAddr().String())
		l.wg.Add(1)
		goroutine.Go("syslog-udp", l.logger, func() {
			defer l.wg.Done()
			l.serveUDP()
		})
	}
	if l.tcpListener != nil {
		l.logger.Infow("Syslog TCP listener started", "addr", l.tcpListener.Addr().String(), "max_connections", l.cfg.MaxConnections)
		l.wg.Add(1)
		goroutine.Go("syslog-tcp", l.logger, func() {
			defer l.wg.Done()
			l.serveTCP()
		})
	}
	return nil
}

// UDPAddr returns the bound UDP address, or nil.
func (l *SyslogListener) UDPAddr() net.Addr {
	if l.udpConn == nil {
		return nil
	}
	return l.udpConn.LocalAddr()
}

// TCPAddr returns the bound TCP address, or nil.
func (l *SyslogListener) TCPAddr() net.Addr {
	if l.tcpListener == nil {
		return nil
	}
	return l.tcpListener.Addr()
}

func (l *SyslogListener) processLine(raw, protocol, peer string) {
	if !l.limiter.Allow() {
		metrics.IngestMessages.WithLabelValues(protocol, "rate_limited").Inc()
		return
	}
	msg, err := ParseSyslog(raw)
	if err != nil {
		if !errors.Is(err, ErrEmptyMessage) {
			metrics.IngestMessages.WithLabelValues(protocol, "malformed").Inc()
			l.logger.Debugw("Dropping malformed syslog line", "peer", peer, "error", err)
		}
		return
	}
	metrics.IngestMessages.WithLabelValues(protocol, "accepted").Inc()
	l.batcher.Add(l.ctx, msg)
}

func (l *SyslogListener) serveUDP() {
	buffer := make([]byte, udpBufferSize)
	for {
		n, addr, err := l.udpConn.ReadFrom(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.ctx.Err() != nil {
				return
			}
			l.logger.Warnw("Syslog UDP read error", "error", err)
			continue
		}
		// one datagram may carry several newline-separated messages
		for _, line := range strings.Split(string(buffer[:n]), "\n") {
			l.processLine(line, "udp", addr.String())
		}
	}
}

func (l *SyslogListener) serveTCP() {
	for {
		conn, err := l.tcpListener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.ctx.Err() != nil {
				return
			}
			l.logger.Warnw("Syslog TCP accept error", "error", err)
			continue
		}

		ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			ip = conn.RemoteAddr().String()
		}

		l.ipMu.Lock()
		if l.ipConnections[ip] >= l.cfg.MaxConnectionsPerIP {
			l.ipMu.Unlock()
			l.logger.Warnw("Per-IP syslog connection limit exceeded", "ip", ip, "limit", l.cfg.MaxConnectionsPerIP)
			metrics.IngestConnectionsRejected.WithLabelValues("per_ip").Inc()
			_ = conn.Close()
			continue
		}

		select {
		case l.connSemaphore <- struct{}{}:
			l.ipConnections[ip]++
			l.ipMu.Unlock()
		default:
			l.ipMu.Unlock()
			l.logger.Warnw("Syslog TCP connection pool full", "limit", l.cfg.MaxConnections, "peer", conn.RemoteAddr().String())
			metrics.IngestConnectionsRejected.WithLabelValues("pool_full").Inc()
			_ = conn.Close()
			continue
		}

		l.connsMu.Lock()
		l.conns[conn] = struct{}{}
		l.connsMu.Unlock()

		metrics.IngestConnections.Inc()
		l.wg.Add(1)
		goroutine.Go("syslog-tcp-conn", l.logger, func() {
			defer l.wg.Done()
			l.handleTCPConnection(conn, ip)
		})
	}
}

func (l *SyslogListener) handleTCPConnection(conn net.Conn, ip string) {
	defer func() {
		_ = conn.Close()
		l.connsMu.Lock()
		delete(l.conns, conn)
		l.connsMu.Unlock()

		<-l.connSemaphore
		metrics.IngestConnections.Dec()

		l.ipMu.Lock()
		if l.ipConnections[ip] > 0 {
			l.ipConnections[ip]--
		}
		if l.ipConnections[ip] == 0 {
			delete(l.ipConnections, ip)
		}
		l.ipMu.Unlock()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(tcpIdleTimeout))
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), MaxLineLength+1)
	for scanner.Scan() {
		l.processLine(scanner.Text(), "tcp", conn.RemoteAddr().String())
		_ = conn.SetReadDeadline(time.Now().Add(tcpIdleTimeout))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && l.ctx.Err() == nil {
		l.logger.Debugw("Syslog TCP connection ended", "peer", conn.RemoteAddr().String(), "error", err)
	}
}

// Stop closes the sockets and open connections, flushes open batches and
// waits for every goroutine.
func (l *SyslogListener) Stop() {
	l.stop.Do(func() {
		if l.udpConn != nil {
			_ = l.udpConn.Close()
		}
		if l.tcpListener != nil {
			_ = l.tcpListener.Close()
		}
		l.connsMu.Lock()
		for conn := range l.conns {
			_ = conn.Close()
		}
		l.connsMu.Unlock()
		l.wg.Wait()

		if l.cancel != nil {
			l.cancel()
			<-l.batcherDone
		}
	})
}
