package webrtc

import (
	"errors"
	"strings"
	"sync"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
)

const mimeTypeTelephoneEvent = "audio/telephone-event"

var ErrDTMFNotNegotiated = errors.New("telephone-event not negotiated")

// audioBinding is the negotiated state of the track on the sender.
type audioBinding struct {
	id      string
	ssrc    uint32
	audioPT uint8
	dtmfPT  uint8
	dtmf    bool
	write   pion.TrackLocalWriter
}

// audioTrack is the outgoing PCMU track. Unlike a static RTP track it keeps
// telephone-event packets on their own negotiated payload type.
type audioTrack struct {
	id       string
	streamID string

	mu      sync.RWMutex
	binding *audioBinding
}

func newAudioTrack(id, streamID string) *audioTrack {
	return &audioTrack{id: id, streamID: streamID}
}

func (t *audioTrack) ID() string              { return t.id }
func (t *audioTrack) RID() string             { return "" }
func (t *audioTrack) StreamID() string        { return t.streamID }
func (t *audioTrack) Kind() pion.RTPCodecType { return pion.RTPCodecTypeAudio }

// Bind picks PCMU for the media and remembers the telephone-event payload
// type when the remote accepted it.
func (t *audioTrack) Bind(ctx pion.TrackLocalContext) (pion.RTPCodecParameters, error) {
	b := &audioBinding{
		id:    ctx.ID(),
		ssrc:  uint32(ctx.SSRC()),
		write: ctx.WriteStream(),
	}

	var audio *pion.RTPCodecParameters
	for _, c := range ctx.CodecParameters() {
		switch {
		case strings.EqualFold(c.MimeType, pion.MimeTypePCMU) && audio == nil:
			codec := c
			audio = &codec
		case strings.EqualFold(c.MimeType, mimeTypeTelephoneEvent) && !b.dtmf:
			b.dtmfPT = uint8(c.PayloadType)
			b.dtmf = true
		}
	}
	if audio == nil {
		return pion.RTPCodecParameters{}, pion.ErrUnsupportedCodec
	}
	b.audioPT = uint8(audio.PayloadType)

	t.mu.Lock()
	t.binding = b
	t.mu.Unlock()
	return *audio, nil
}

func (t *audioTrack) Unbind(ctx pion.TrackLocalContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.binding != nil && t.binding.id == ctx.ID() {
		t.binding = nil
	}
	return nil
}

// WriteRTP sends pkt with the bound SSRC. Telephone events go out on the
// negotiated telephone-event type, everything else on the PCMU type.
// Packets written before negotiation are dropped.
func (t *audioTrack) WriteRTP(pkt *rtp.Packet) error {
	t.mu.RLock()
	b := t.binding
	t.mu.RUnlock()
	if b == nil {
		return nil
	}

	header := pkt.Header
	header.SSRC = b.ssrc
	if pkt.PayloadType == TelephoneEventPayloadType {
		if !b.dtmf {
			return ErrDTMFNotNegotiated
		}
		header.PayloadType = b.dtmfPT
	} else {
		header.PayloadType = b.audioPT
	}
	_, err := b.write.WriteRTP(&header, pkt.Payload)
	return err
}
