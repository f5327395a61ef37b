// Package socksproxy implements the loopback SOCKS5 outbound proxy
// embedded in every mutated pod's proxy container: it lets the
// logger/app containers reach in-cluster services despite running
// without a pod network of their own.
package socksproxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/catalystcommunity/app-utils-go/logging"
)

const (
	DefaultPort = 1080

	socksVersion  = 0x05
	authNone      = 0x00
	authNoMethods = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	replySuccess          = 0x00
	replyGeneralFailure   = 0x01
	replyConnRefused      = 0x05
	replyAtypNotSupported = 0x08

	forwardChunkSize = 4096
)

// Config controls the proxy's listen address and connection-handling
// concurrency.
type Config struct {
	Port        int
	Concurrency int
	DialTimeout time.Duration
}

func defaultConfig() Config {
	return Config{Port: DefaultPort, Concurrency: 64, DialTimeout: 10 * time.Second}
}

// Option customizes a Config.
type Option func(*Config)

func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// Proxy accepts SOCKS5 connections on a loopback port and forwards
// each to its requested target. One task pair per accepted
// connection; no shared mutable state is touched per-connection
// beyond the bounded worker pool itself.
type Proxy struct {
	cfg      Config
	listener net.Listener
	pool     *workerpool.WorkerPool
}

func New(opts ...Option) *Proxy {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Proxy{cfg: cfg, pool: workerpool.New(cfg.Concurrency)}
}

// Addr returns the bound listener address; valid only after
// ListenAndServe has started accepting.
func (p *Proxy) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// ListenAndServe binds the loopback listener and accepts connections
// until ctx is cancelled. It blocks until the listener is closed.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", p.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	p.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logging.Log.WithField("addr", addr).Info("socks5 proxy listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				p.pool.StopWait()
				return nil
			default:
				logging.Log.WithError(err).Warn("socks5 accept error")
				return err
			}
		}
		p.pool.Submit(func() { p.handleConn(ctx, conn) })
	}
}

func (p *Proxy) handleConn(ctx context.Context, client net.Conn) {
	defer client.Close()

	if err := handshake(client); err != nil {
		logging.Log.WithError(err).Debug("socks5 handshake failed")
		return
	}

	target, err := readRequest(client)
	if err != nil {
		logging.Log.WithError(err).Debug("socks5 request decode failed")
		writeReply(client, replyGeneralFailure)
		return
	}
	if target == "" {
		writeReply(client, replyAtypNotSupported)
		return
	}

	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	upstream, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logging.Log.WithError(err).WithField("target", target).Debug("socks5 upstream dial failed")
		writeReply(client, replyConnRefused)
		return
	}
	defer upstream.Close()

	if err := writeReply(client, replySuccess); err != nil {
		return
	}

	forward(client, upstream)
}

// handshake reads the version/method-selection greeting and replies
// {5,0} if "no auth" is offered, else {5,0xff} and the caller closes.
func handshake(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return err
	}
	if header[0] != socksVersion {
		return fmt.Errorf("unsupported socks version %d", header[0])
	}
	nmethods := int(header[1])
	methods := make([]byte, nmethods)
	if nmethods > 0 {
		if _, err := io.ReadFull(conn, methods); err != nil {
			return err
		}
	}

	for _, m := range methods {
		if m == authNone {
			_, err := conn.Write([]byte{socksVersion, authNone})
			return err
		}
	}
	conn.Write([]byte{socksVersion, authNoMethods})
	return fmt.Errorf("no acceptable auth method offered")
}

// readRequest decodes the CONNECT request and returns "host:port", or
// "" if the address type is unsupported (caller replies 0x08).
func readRequest(conn net.Conn) (string, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return "", err
	}
	if header[0] != socksVersion {
		return "", fmt.Errorf("unsupported socks version %d", header[0])
	}
	if header[1] != cmdConnect {
		return "", fmt.Errorf("unsupported command %d", header[1])
	}

	var host string
	switch header[3] {
	case atypIPv4:
		addr := make([]byte, 4)
		if _, err := io.ReadFull(conn, addr); err != nil {
			return "", err
		}
		host = net.IP(addr).String()
	case atypDomain:
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenByte); err != nil {
			return "", err
		}
		domain := make([]byte, lenByte[0])
		if _, err := io.ReadFull(conn, domain); err != nil {
			return "", err
		}
		host = string(domain)
	case atypIPv6:
		// Drain the 16-byte address + port so the connection stays
		// parseable even though we reject the request.
		addr := make([]byte, 16+2)
		io.ReadFull(conn, addr)
		return "", nil
	default:
		addr := make([]byte, 2)
		io.ReadFull(conn, addr)
		return "", nil
	}

	portBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn, portBytes); err != nil {
		return "", err
	}
	port := binary.BigEndian.Uint16(portBytes)

	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

func writeReply(conn net.Conn, code byte) error {
	reply := []byte{socksVersion, code, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	return err
}

// forward copies bytes bidirectionally in forwardChunkSize chunks
// until either side closes.
func forward(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		copyChunked(b, a)
		done <- struct{}{}
	}()
	go func() {
		copyChunked(a, b)
		done <- struct{}{}
	}()
	<-done
}

func copyChunked(dst io.Writer, src io.Reader) {
	buf := make([]byte, forwardChunkSize)
	io.CopyBuffer(dst, src, buf)
}
