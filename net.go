package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Conn is a connection to a client.
type Conn struct {
	conn   net.Conn
	rw     *bufio.ReadWriter
	ioWait time.Duration
	IP     net.IP
}

// NewConn initializes a Conn.
func NewConn(conn net.Conn, ioWait time.Duration) Conn {
	ip := net.IP{}
	if tcpAddr, err := net.ResolveTCPAddr("tcp", conn.RemoteAddr().String()); err == nil {
		ip = tcpAddr.IP
	} else {
		log.Printf("unable to resolve remote address %s: %s", conn.RemoteAddr(), err)
	}

	return Conn{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		ioWait: ioWait,
		IP:     ip,
	}
}

// Close closes the underlying connection.
func (c Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote network address.
func (c Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads a single line from the connection, up to and including its
// line terminator. It accepts both CRLF and bare LF; the caller normalizes.
func (c Conn) Read() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.ioWait)); err != nil {
		// Not fatal. There may be data already buffered that we still want.
		log.Printf("error setting read deadline: %s", err)
	}

	line, err := c.rw.ReadString('\n')
	if err != nil {
		// There may be a partial line read even when err != nil.
		return line, errors.Wrap(err, "error reading")
	}

	return line, nil
}

// Write writes a string to the connection.
func (c Conn) Write(s string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioWait)); err != nil {
		return fmt.Errorf("error setting write deadline: %s", err)
	}

	sz, err := c.rw.WriteString(s)
	if err != nil {
		return err
	}

	if sz != len(s) {
		return fmt.Errorf("short write")
	}

	return c.rw.Flush()
}

// buildTLSConfig loads a certificate/key pair for the accept-path TLS
// adapter (spec.md §6). Both paths must be set or TLS is left disabled.
func buildTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if len(certFile) == 0 || len(keyFile) == 0 {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load TLS certificate")
	}

	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// wrapTLS wraps an already-accepted connection in a server-side TLS
// session and performs the handshake before returning, so that a failed
// handshake is caught at the accept site rather than on first read.
func wrapTLS(conn net.Conn, config *tls.Config) (net.Conn, error) {
	tlsConn := tls.Server(conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, errors.Wrap(err, "TLS handshake failed")
	}
	return tlsConn, nil
}
