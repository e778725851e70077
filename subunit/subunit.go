// Package subunit implements a minimal codec for the subunit v2 test result
// stream protocol, the wire format emitted by stestr and consumed by the
// runner. Only the packet fields needed for result collection are supported:
// status, test id, timestamp, tags, EOF and route code. File content payloads
// are decoded but not interpreted.
package subunit

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

// Signature is the first byte of every subunit v2 packet.
const Signature = 0xB3

// Packet flag bits. The high nibble of the 16-bit flag word carries the
// protocol version (2); the low three bits carry the test status.
const (
	flagTestID      = 0x0800
	flagRouteCode   = 0x0400
	flagTimestamp   = 0x0200
	flagRunnable    = 0x0100
	flagTags        = 0x0080
	flagFileContent = 0x0040
	flagMIMEType    = 0x0020
	flagEOF         = 0x0010

	versionMask = 0xF000
	version2    = 0x2000
	statusMask  = 0x0007
)

// maxPacketLength bounds a single packet to 4MiB per the protocol.
const maxPacketLength = 4 * 1024 * 1024

// Status is the test status carried in a packet.
type Status uint8

const (
	StatusUndefined Status = iota
	StatusEnumeration
	StatusInProgress
	StatusSuccess
	StatusUxSuccess
	StatusSkip
	StatusFail
	StatusXFail
)

func (s Status) String() string {
	switch s {
	case StatusEnumeration:
		return "exists"
	case StatusInProgress:
		return "inprogress"
	case StatusSuccess:
		return "success"
	case StatusUxSuccess:
		return "uxsuccess"
	case StatusSkip:
		return "skip"
	case StatusFail:
		return "fail"
	case StatusXFail:
		return "xfail"
	default:
		return "undefined"
	}
}

// Terminal reports whether the status ends a test's execution.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusUxSuccess, StatusSkip, StatusFail, StatusXFail:
		return true
	}
	return false
}

// Event is one decoded packet.
type Event struct {
	Status    Status
	TestID    string
	Timestamp time.Time
	Tags      []string
	MIMEType  string
	FileName  string
	FileBytes []byte
	RouteCode string
	Runnable  bool
	EOF       bool
}

// Reader decodes packets incrementally from a stream. It is not safe for
// concurrent use.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next returns the next packet in the stream. It returns io.EOF once the
// stream is exhausted on a packet boundary, and io.ErrUnexpectedEOF if the
// stream ends mid-packet.
func (r *Reader) Next() (Event, error) {
	var ev Event

	sig, err := r.br.ReadByte()
	if err != nil {
		if err == io.EOF {
			return ev, io.EOF
		}
		return ev, err
	}
	if sig != Signature {
		return ev, fmt.Errorf("bad packet signature 0x%02X", sig)
	}

	head := make([]byte, 2)
	if _, err := io.ReadFull(r.br, head); err != nil {
		return ev, unexpected(err)
	}
	flags := binary.BigEndian.Uint16(head)
	if flags&versionMask != version2 {
		return ev, fmt.Errorf("unsupported subunit version 0x%X", flags>>12)
	}

	length, lenBytes, err := readNumber(r.br)
	if err != nil {
		return ev, unexpected(err)
	}
	if length > maxPacketLength {
		return ev, fmt.Errorf("packet length %d exceeds maximum", length)
	}
	consumed := 1 + 2 + len(lenBytes)
	if int(length) < consumed+4 {
		return ev, fmt.Errorf("packet length %d too short", length)
	}

	rest := make([]byte, int(length)-consumed)
	if _, err := io.ReadFull(r.br, rest); err != nil {
		return ev, unexpected(err)
	}

	// CRC covers everything before the trailing checksum.
	sum := crc32.NewIEEE()
	sum.Write([]byte{sig})
	sum.Write(head)
	sum.Write(lenBytes)
	sum.Write(rest[:len(rest)-4])
	want := binary.BigEndian.Uint32(rest[len(rest)-4:])
	if got := sum.Sum32(); got != want {
		return ev, fmt.Errorf("packet checksum mismatch: got 0x%08X want 0x%08X", got, want)
	}

	body := rest[:len(rest)-4]
	ev.Status = Status(flags & statusMask)
	ev.Runnable = flags&flagRunnable != 0
	ev.EOF = flags&flagEOF != 0

	// Optional fields appear in a fixed order.
	if flags&flagTimestamp != 0 {
		if len(body) < 4 {
			return ev, io.ErrUnexpectedEOF
		}
		secs := binary.BigEndian.Uint32(body[:4])
		body = body[4:]
		var nanos uint32
		nanos, body, err = parseNumber(body)
		if err != nil {
			return ev, err
		}
		ev.Timestamp = time.Unix(int64(secs), int64(nanos)).UTC()
	}
	if flags&flagTestID != 0 {
		if ev.TestID, body, err = parseString(body); err != nil {
			return ev, err
		}
	}
	if flags&flagTags != 0 {
		var count uint32
		if count, body, err = parseNumber(body); err != nil {
			return ev, err
		}
		ev.Tags = make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			var tag string
			if tag, body, err = parseString(body); err != nil {
				return ev, err
			}
			ev.Tags = append(ev.Tags, tag)
		}
	}
	if flags&flagMIMEType != 0 {
		if ev.MIMEType, body, err = parseString(body); err != nil {
			return ev, err
		}
	}
	if flags&flagFileContent != 0 {
		if ev.FileName, body, err = parseString(body); err != nil {
			return ev, err
		}
		var size uint32
		if size, body, err = parseNumber(body); err != nil {
			return ev, err
		}
		if int(size) > len(body) {
			return ev, io.ErrUnexpectedEOF
		}
		ev.FileBytes = append([]byte(nil), body[:size]...)
		body = body[size:]
	}
	if flags&flagRouteCode != 0 {
		if ev.RouteCode, body, err = parseString(body); err != nil {
			return ev, err
		}
	}
	if len(body) != 0 {
		return ev, fmt.Errorf("%d trailing bytes in packet", len(body))
	}

	return ev, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// readNumber reads a variable-width number from the stream, returning the
// value and the raw bytes it occupied. The top two bits of the first octet
// select a 1, 2, 3 or 4 octet encoding.
func readNumber(br *bufio.Reader) (uint32, []byte, error) {
	first, err := br.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	extra := int(first >> 6)
	raw := make([]byte, 1, 1+extra)
	raw[0] = first
	value := uint32(first & 0x3F)
	for i := 0; i < extra; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		raw = append(raw, b)
		value = value<<8 | uint32(b)
	}
	return value, raw, nil
}

// parseNumber decodes a variable-width number from a buffer.
func parseNumber(buf []byte) (uint32, []byte, error) {
	if len(buf) == 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	extra := int(buf[0] >> 6)
	if len(buf) < 1+extra {
		return 0, nil, io.ErrUnexpectedEOF
	}
	value := uint32(buf[0] & 0x3F)
	for i := 1; i <= extra; i++ {
		value = value<<8 | uint32(buf[i])
	}
	return value, buf[1+extra:], nil
}

// parseString decodes a length-prefixed UTF-8 string from a buffer.
func parseString(buf []byte) (string, []byte, error) {
	size, rest, err := parseNumber(buf)
	if err != nil {
		return "", nil, err
	}
	if int(size) > len(rest) {
		return "", nil, io.ErrUnexpectedEOF
	}
	return string(rest[:size]), rest[size:], nil
}
