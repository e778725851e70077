package subunit

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Writer encodes events as subunit v2 packets. It exists for the
// upload-subunit path's fixtures and for exercising the Reader without a
// live stestr process.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes a single event as one packet.
func (w *Writer) Write(ev Event) error {
	flags := uint16(version2) | uint16(ev.Status&statusMask)

	var body []byte
	if !ev.Timestamp.IsZero() {
		flags |= flagTimestamp
		var secs [4]byte
		binary.BigEndian.PutUint32(secs[:], uint32(ev.Timestamp.Unix()))
		body = append(body, secs[:]...)
		nanos, err := encodeNumber(uint32(ev.Timestamp.Nanosecond()))
		if err != nil {
			return err
		}
		body = append(body, nanos...)
	}
	if ev.TestID != "" {
		flags |= flagTestID
		enc, err := encodeString(ev.TestID)
		if err != nil {
			return err
		}
		body = append(body, enc...)
	}
	if len(ev.Tags) > 0 {
		flags |= flagTags
		count, err := encodeNumber(uint32(len(ev.Tags)))
		if err != nil {
			return err
		}
		body = append(body, count...)
		for _, tag := range ev.Tags {
			enc, err := encodeString(tag)
			if err != nil {
				return err
			}
			body = append(body, enc...)
		}
	}
	if ev.MIMEType != "" {
		flags |= flagMIMEType
		enc, err := encodeString(ev.MIMEType)
		if err != nil {
			return err
		}
		body = append(body, enc...)
	}
	if ev.FileName != "" || len(ev.FileBytes) > 0 {
		flags |= flagFileContent
		name, err := encodeString(ev.FileName)
		if err != nil {
			return err
		}
		body = append(body, name...)
		size, err := encodeNumber(uint32(len(ev.FileBytes)))
		if err != nil {
			return err
		}
		body = append(body, size...)
		body = append(body, ev.FileBytes...)
	}
	if ev.RouteCode != "" {
		flags |= flagRouteCode
		enc, err := encodeString(ev.RouteCode)
		if err != nil {
			return err
		}
		body = append(body, enc...)
	}
	if ev.Runnable {
		flags |= flagRunnable
	}
	if ev.EOF {
		flags |= flagEOF
	}

	// The length field counts the whole packet including itself, so the
	// field's own width has to be found by trial.
	base := 1 + 2 + len(body) + 4
	var lenBytes []byte
	for width := 1; width <= 4; width++ {
		total := base + width
		enc, err := encodeNumber(uint32(total))
		if err != nil {
			return err
		}
		if len(enc) == width {
			lenBytes = enc
			break
		}
	}
	if lenBytes == nil {
		return fmt.Errorf("packet of %d bytes exceeds maximum length", base)
	}
	if base+len(lenBytes) > maxPacketLength {
		return fmt.Errorf("packet of %d bytes exceeds maximum length", base+len(lenBytes))
	}

	packet := make([]byte, 0, base+len(lenBytes))
	packet = append(packet, Signature)
	packet = binary.BigEndian.AppendUint16(packet, flags)
	packet = append(packet, lenBytes...)
	packet = append(packet, body...)
	packet = binary.BigEndian.AppendUint32(packet, crc32.ChecksumIEEE(packet))

	_, err := w.w.Write(packet)
	return err
}

// encodeNumber encodes a value in the shortest variable-width form.
func encodeNumber(v uint32) ([]byte, error) {
	switch {
	case v < 1<<6:
		return []byte{byte(v)}, nil
	case v < 1<<14:
		return []byte{0x40 | byte(v>>8), byte(v)}, nil
	case v < 1<<22:
		return []byte{0x80 | byte(v>>16), byte(v >> 8), byte(v)}, nil
	case v < 1<<30:
		return []byte{0xC0 | byte(v>>24), byte(v >> 16), byte(v >> 8), byte(v)}, nil
	default:
		return nil, fmt.Errorf("number %d too large to encode", v)
	}
}

func encodeString(s string) ([]byte, error) {
	size, err := encodeNumber(uint32(len(s)))
	if err != nil {
		return nil, err
	}
	return append(size, s...), nil
}
