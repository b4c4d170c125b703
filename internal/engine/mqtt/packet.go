package mqtt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zlib"
)

// MQTT control packet types
const (
	packetConnect    byte = 1
	packetConnack    byte = 2
	packetPublish    byte = 3
	packetPuback     byte = 4
	packetSubscribe  byte = 8
	packetSuback     byte = 9
	packetPingreq    byte = 12
	packetPingresp   byte = 13
	packetDisconnect byte = 14
)

const (
	protocolName  = "MQTT"
	protocolLevel = 4

	// connect flags: username present, clean session
	connectFlags = 0x82
)

var errMalformedLength = errors.New("malformed remaining length")

type packet struct {
	kind    byte
	flags   byte
	payload []byte
}

func encodePacket(kind, flags byte, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kind<<4 | flags&0x0F)
	writeRemainingLength(&buf, len(body))
	buf.Write(body)
	return buf.Bytes()
}

func writeRemainingLength(buf *bytes.Buffer, length int) {
	for {
		encoded := byte(length % 128)
		length /= 128
		if length > 0 {
			encoded |= 0x80
		}
		buf.WriteByte(encoded)
		if length == 0 {
			return
		}
	}
}

func readRemainingLength(r io.ByteReader) (int, error) {
	multiplier := 1
	value := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value += int(b&127) * multiplier
		if b&128 == 0 {
			return value, nil
		}
		multiplier *= 128
		if multiplier > 128*128*128 {
			return 0, errMalformedLength
		}
	}
}

type packetReader interface {
	io.Reader
	io.ByteReader
}

func readPacket(r packetReader) (*packet, error) {
	header, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	length, err := readRemainingLength(r)
	if err != nil {
		return nil, err
	}
	p := &packet{kind: header >> 4, flags: header & 0x0F, payload: make([]byte, length)}
	if _, err := io.ReadFull(r, p.payload); err != nil {
		return nil, err
	}
	return p, nil
}

func writeField(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.BigEndian, uint16(len(data)))
	buf.Write(data)
}

func readField(data []byte) (field, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return data[2 : 2+n], data[2+n:], nil
}

// connectPacket carries the client id and, in the username field, the
// compressed client description.
func connectPacket(clientID string, keepAlive time.Duration, info []byte) []byte {
	var body bytes.Buffer
	writeField(&body, []byte(protocolName))
	body.WriteByte(protocolLevel)
	body.WriteByte(connectFlags)
	binary.Write(&body, binary.BigEndian, uint16(keepAlive/time.Second))
	writeField(&body, []byte(clientID))
	writeField(&body, info)
	return encodePacket(packetConnect, 0, body.Bytes())
}

func parseConnack(payload []byte) (sessionPresent bool, code byte, err error) {
	if len(payload) < 2 {
		return false, 0, fmt.Errorf("CONNACK payload too short")
	}
	return payload[0]&0x01 == 1, payload[1], nil
}

func subscribePacket(id uint16, topics ...string) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, id)
	for _, topic := range topics {
		writeField(&body, []byte(topic))
		body.WriteByte(1)
	}
	return encodePacket(packetSubscribe, 0x02, body.Bytes())
}

func parseSuback(payload []byte) (id uint16, codes []byte, err error) {
	if len(payload) < 3 {
		return 0, nil, fmt.Errorf("SUBACK payload too short")
	}
	return binary.BigEndian.Uint16(payload), payload[2:], nil
}

func publishPacket(topic string, qos byte, id uint16, payload []byte) []byte {
	var body bytes.Buffer
	writeField(&body, []byte(topic))
	if qos > 0 {
		binary.Write(&body, binary.BigEndian, id)
	}
	body.Write(payload)
	return encodePacket(packetPublish, qos<<1, body.Bytes())
}

type message struct {
	topic   string
	qos     byte
	id      uint16
	payload []byte
}

func parsePublish(flags byte, payload []byte) (*message, error) {
	topic, rest, err := readField(payload)
	if err != nil {
		return nil, fmt.Errorf("PUBLISH topic: %w", err)
	}
	m := &message{topic: string(topic), qos: (flags >> 1) & 0x03}
	if m.qos > 0 {
		if len(rest) < 2 {
			return nil, fmt.Errorf("PUBLISH packet id missing")
		}
		m.id = binary.BigEndian.Uint16(rest)
		rest = rest[2:]
	}
	m.payload = rest
	return m, nil
}

func pubackPacket(id uint16) []byte {
	return encodePacket(packetPuback, 0, binary.BigEndian.AppendUint16(nil, id))
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
