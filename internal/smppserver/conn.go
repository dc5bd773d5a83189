package smppserver

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/kelvradu/smppgate/internal/session"
)

// PDUHeader is the SMPP PDU header (16 bytes).
type PDUHeader struct {
	Length         uint32
	CommandID      uint32
	CommandStatus  uint32
	SequenceNumber uint32
}

// makeHeader creates a basic PDU header. Length is fixed up on write.
func makeHeader(cmdID, seq, status uint32) PDUHeader {
	return PDUHeader{
		Length:         16,
		CommandID:      cmdID,
		CommandStatus:  status,
		SequenceNumber: seq,
	}
}

// clientConn is one accepted SMPP connection. It implements session.Conn so
// the dispatcher and the state listener can address it without knowing about
// the transport.
type clientConn struct {
	id   string
	conn net.Conn

	writer  *bufio.Writer
	writeMu sync.Mutex

	// sequence for server-initiated PDUs (unbind, deliver_sm headers are
	// rendered upstream)
	outSeq atomic.Uint32

	closed atomic.Bool
}

var _ session.Conn = (*clientConn)(nil)

func newClientConn(id string, conn net.Conn) *clientConn {
	return &clientConn{
		id:     id,
		conn:   conn,
		writer: bufio.NewWriter(conn),
	}
}

func (c *clientConn) ID() string {
	return c.id
}

// WriteRaw writes a fully marshaled PDU and flushes immediately.
func (c *clientConn) WriteRaw(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.writer.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = c.writer.Flush()
	}
	return err
}

// writePDU frames a header plus optional body and writes it out.
func (c *clientConn) writePDU(hdr PDUHeader, body []byte) error {
	hdr.Length = uint32(16 + len(body))

	buf := make([]byte, hdr.Length)
	binary.BigEndian.PutUint32(buf[0:], hdr.Length)
	binary.BigEndian.PutUint32(buf[4:], hdr.CommandID)
	binary.BigEndian.PutUint32(buf[8:], hdr.CommandStatus)
	binary.BigEndian.PutUint32(buf[12:], hdr.SequenceNumber)
	if len(body) > 0 {
		copy(buf[16:], body)
	}
	return c.WriteRaw(buf)
}

// writeResponse sends a header-only response PDU for the given request.
func (c *clientConn) writeResponse(reqHdr PDUHeader, cmdID, status uint32) error {
	return c.writePDU(makeHeader(cmdID, reqHdr.SequenceNumber, status), nil)
}

// Unbind sends a best-effort server-initiated unbind and closes the
// transport without waiting for the response.
func (c *clientConn) Unbind() error {
	err := c.writePDU(makeHeader(CommandUnbind, c.outSeq.Add(1), StatusOk), nil)
	closeErr := c.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// Close tears down the transport. Idempotent.
func (c *clientConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
