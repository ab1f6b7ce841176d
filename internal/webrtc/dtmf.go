package webrtc

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pion/rtp"
)

// RFC 4733 telephone-event parameters at 8kHz.
const (
	TelephoneEventPayloadType uint8 = 101

	dtmfVolume        uint8  = 10   // -10 dBm0
	dtmfDuration      uint16 = 1600 // 200ms
	dtmfMinDuration   uint16 = 400  // 50ms
	dtmfPacketSamples uint16 = 160  // 20ms
	dtmfEndRepeats           = 3
)

const dtmfEvents = "0123456789*#ABCD"

// telephoneEvent is the 4-byte RFC 4733 payload:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     event     |E|R| volume    |          duration             |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type telephoneEvent struct {
	Code     uint8
	End      bool
	Volume   uint8
	Duration uint16
}

func (e telephoneEvent) marshal() []byte {
	b := make([]byte, 4)
	b[0] = e.Code
	b[1] = e.Volume & 0x3F
	if e.End {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// eventCode maps a keypad digit to its telephone-event code.
func eventCode(digit rune) (uint8, bool) {
	i := strings.IndexRune(dtmfEvents, unicode.ToUpper(digit))
	if i < 0 {
		return 0, false
	}
	return uint8(i), true
}

// packetWriter sends an RTP packet on the outgoing audio stream, assigning
// its sequence number.
type packetWriter interface {
	writePacket(pkt *rtp.Packet) error
}

// dtmfSender emits digits as telephone-event packets: growing-duration
// updates every interval, then the end packet three times. The timestamp
// stays fixed for the whole event.
type dtmfSender struct {
	w        packetWriter
	pt       uint8
	interval time.Duration
}

func (d *dtmfSender) send(digit rune, ts uint32, duration uint16) error {
	code, ok := eventCode(digit)
	if !ok {
		return fmt.Errorf("invalid DTMF digit: %q", digit)
	}
	if duration < dtmfMinDuration {
		duration = dtmfMinDuration
	}

	first := true
	for elapsed := dtmfPacketSamples; elapsed < duration; elapsed += dtmfPacketSamples {
		evt := telephoneEvent{Code: code, Volume: dtmfVolume, Duration: elapsed}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:     2,
				Marker:      first,
				PayloadType: d.pt,
				Timestamp:   ts,
			},
			Payload: evt.marshal(),
		}
		if err := d.w.writePacket(pkt); err != nil {
			return fmt.Errorf("send DTMF packet: %w", err)
		}
		first = false
		time.Sleep(d.interval)
	}

	for i := 0; i < dtmfEndRepeats; i++ {
		evt := telephoneEvent{Code: code, End: true, Volume: dtmfVolume, Duration: duration}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:     2,
				PayloadType: d.pt,
				Timestamp:   ts,
			},
			Payload: evt.marshal(),
		}
		if err := d.w.writePacket(pkt); err != nil {
			return fmt.Errorf("send DTMF end packet: %w", err)
		}
	}
	return nil
}
