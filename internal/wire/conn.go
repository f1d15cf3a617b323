package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("wire")

// MaxHeaderLen bounds the JSON header so a corrupt or hostile varint length
// can't trigger an unbounded allocation.
const MaxHeaderLen = 64 * 1024

// MaxExtraDataLen bounds a single packet's extra-data blob. Video frames at
// the encoder's configured bitrate never approach this; it exists purely as
// a fail-fast guard against a corrupt length field.
const MaxExtraDataLen = 64 * 1024 * 1024

// Conn wraps a net.Conn (expected to already be a *tls.Conn) with the
// varint-length-prefixed Packet framing from spec §4.8. Writes are
// serialized under one mutex so concurrent producers still yield a total
// order on the wire, matching the teacher's single-writer ipc.Conn pattern.
type Conn struct {
	raw net.Conn
	r   *bufio.Reader

	writeMu sync.Mutex
	w       *bufio.Writer
}

// NewConn wraps an established connection (post-TLS-handshake).
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw: raw,
		r:   bufio.NewReaderSize(raw, 16*1024),
		w:   bufio.NewWriterSize(raw, 16*1024),
	}
}

// Send writes one packet: varint header length, JSON header, then the raw
// extra-data bytes. Send overwrites pkt.ExtraDataLen with len(extraData),
// so callers never have to keep the two in sync.
func (c *Conn) Send(pkt Packet, extraData []byte) error {
	pkt.ExtraDataLen = uint32(len(extraData))

	header, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("wire: marshal header: %w", err)
	}
	if len(header) > MaxHeaderLen {
		return fmt.Errorf("wire: header too large: %d > %d", len(header), MaxHeaderLen)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var lenBuf [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(header)))
	if _, err := c.w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("wire: write header length: %w", err)
	}
	if _, err := c.w.Write(header); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if len(extraData) > 0 {
		if _, err := c.w.Write(extraData); err != nil {
			return fmt.Errorf("wire: write extra data: %w", err)
		}
	}
	return c.w.Flush()
}

// Recv reads one packet: the varint header length, the JSON header, then
// exactly Packet.ExtraDataLen bytes of extra-data.
func (c *Conn) Recv() (Packet, []byte, error) {
	headerLen, err := binary.ReadUvarint(c.r)
	if err != nil {
		return Packet{}, nil, fmt.Errorf("wire: read header length: %w", err)
	}
	if headerLen > MaxHeaderLen {
		return Packet{}, nil, fmt.Errorf("wire: header too large: %d > %d", headerLen, MaxHeaderLen)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(c.r, header); err != nil {
		return Packet{}, nil, fmt.Errorf("wire: read header: %w", err)
	}

	var pkt Packet
	if err := json.Unmarshal(header, &pkt); err != nil {
		return Packet{}, nil, fmt.Errorf("wire: unmarshal header: %w", err)
	}

	if pkt.ExtraDataLen > MaxExtraDataLen {
		return Packet{}, nil, fmt.Errorf("wire: extra data too large: %d > %d", pkt.ExtraDataLen, MaxExtraDataLen)
	}

	var extra []byte
	if pkt.ExtraDataLen > 0 {
		extra = make([]byte, pkt.ExtraDataLen)
		if _, err := io.ReadFull(c.r, extra); err != nil {
			return Packet{}, nil, fmt.Errorf("wire: read extra data: %w", err)
		}
	}

	log.Debug("recv packet", "type", pkt.Type, "extraDataLen", pkt.ExtraDataLen)
	return pkt, extra, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Raw returns the underlying net.Conn, e.g. for extracting TLS connection
// state during the handshake.
func (c *Conn) Raw() net.Conn {
	return c.raw
}
