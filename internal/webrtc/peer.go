package webrtc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/zaf/g711"

	"phone_island/native/internal/domain"
	"phone_island/native/internal/logging"
)

const pcmuPayloadType uint8 = 0

var (
	ErrNoAudio    = errors.New("no local audio track")
	ErrDTMFBusy   = errors.New("too many queued DTMF digits")
	ErrPeerClosed = errors.New("peer connection closed")
)

const dtmfQueueSize = 16

// rtpWriter is the outgoing audio track.
type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Peer wraps a Pion PeerConnection carrying one PCMU audio stream.
type Peer struct {
	pc  *pion.PeerConnection
	log *logrus.Entry

	remoteDescSet  chan struct{}
	remoteDescOnce sync.Once
	closed         chan struct{}
	closeOnce      sync.Once

	mu          sync.Mutex
	source      domain.CaptureStream
	unsubscribe func()
	muted       atomic.Bool

	wmu       sync.Mutex
	out       rtpWriter
	seq       uint16
	timestamp uint32

	dtmf     *dtmfSender
	tones    chan rune
	toneOnce sync.Once
}

// NewPeer creates a PeerConnection with PCMU and telephone-event registered.
func NewPeer(iceServers []domain.ICEServer, log *logrus.Entry) (*Peer, error) {
	if log == nil {
		log = logging.Discard()
	}
	m := &pion.MediaEngine{}

	pcmuCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: pion.PayloadType(pcmuPayloadType),
	}
	if err := m.RegisterCodec(pcmuCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	dtmfCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    mimeTypeTelephoneEvent,
			ClockRate:   8000,
			SDPFmtpLine: "0-16",
		},
		PayloadType: pion.PayloadType(TelephoneEventPayloadType),
	}
	if err := m.RegisterCodec(dtmfCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register telephone-event: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:            pc,
		log:           log,
		remoteDescSet: make(chan struct{}),
		closed:        make(chan struct{}),
		tones:         make(chan rune, dtmfQueueSize),
	}
	p.dtmf = &dtmfSender{w: p, pt: TelephoneEventPayloadType, interval: 20 * time.Millisecond}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Infof("ICE connection state: %s", state.String())
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Infof("peer connection state: %s", state.String())
	})

	return p, nil
}

// AddAudio adds the outgoing audio track, fed by source.
func (p *Peer) AddAudio(source domain.CaptureStream) error {
	track := newAudioTrack("audio", "phone-island")
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}

	// drain RTCP so the interceptors keep running
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	p.wmu.Lock()
	p.out = track
	p.wmu.Unlock()

	p.ReplaceSource(source)
	return nil
}

// ReplaceSource moves the outgoing track onto another capture stream.
func (p *Peer) ReplaceSource(source domain.CaptureStream) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.source = source
	if source != nil {
		p.unsubscribe = source.Subscribe(p.writeFrame)
	}
}

// SetMuted stops or resumes sending captured audio. The track stays
// negotiated while muted.
func (p *Peer) SetMuted(muted bool) {
	p.muted.Store(muted)
}

func (p *Peer) writeFrame(frame []byte) {
	if p.muted.Load() {
		return
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.out == nil {
		return
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pcmuPayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
		},
		Payload: frame,
	}
	if err := p.out.WriteRTP(pkt); err != nil {
		p.log.Debugf("write audio: %v", err)
	}
	p.seq++
	// one µ-law byte per sample
	p.timestamp += uint32(len(frame))
}

func (p *Peer) writePacket(pkt *rtp.Packet) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.out == nil {
		return ErrNoAudio
	}
	pkt.SequenceNumber = p.seq
	p.seq++
	return p.out.WriteRTP(pkt)
}

// SendDTMF queues digit to be sent in-band as RFC 4733 telephone events.
// Digits go out in order, one tone at a time, without blocking the caller.
func (p *Peer) SendDTMF(digit rune) error {
	if _, ok := eventCode(digit); !ok {
		return fmt.Errorf("invalid DTMF digit: %q", digit)
	}
	p.wmu.Lock()
	ready := p.out != nil
	p.wmu.Unlock()
	if !ready {
		return ErrNoAudio
	}

	p.toneOnce.Do(func() { go p.toneLoop() })
	select {
	case <-p.closed:
		return ErrPeerClosed
	case p.tones <- digit:
		return nil
	default:
		return ErrDTMFBusy
	}
}

func (p *Peer) toneLoop() {
	for {
		select {
		case <-p.closed:
			return
		case digit := <-p.tones:
			p.wmu.Lock()
			ts := p.timestamp
			p.wmu.Unlock()

			p.log.Debugf("sending DTMF %q", digit)
			if err := p.dtmf.send(digit, ts, dtmfDuration); err != nil {
				p.log.Warnf("DTMF %q: %v", digit, err)
			}
		}
	}
}

// SetOnTrack sets up the track handler. Remote PCMU audio is decoded to
// 16-bit PCM and written to audioOut.
func (p *Peer) SetOnTrack(audioOut io.Writer) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)

		if track.Kind() != pion.RTPCodecTypeAudio || audioOut == nil {
			go drain(track)
			return
		}
		go p.readAudioTrack(track, audioOut)
	})
}

func (p *Peer) readAudioTrack(track *pion.TrackRemote, w io.Writer) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.log.Debugf("audio track read: %v", err)
			return
		}
		if pkt.PayloadType != pcmuPayloadType || len(pkt.Payload) == 0 {
			continue
		}
		if _, err := w.Write(g711.DecodeUlaw(pkt.Payload)); err != nil {
			p.log.Warnf("audio output: %v", err)
			drain(track)
			return
		}
	}
}

func drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// SetOnICECandidate registers the callback for locally discovered ICE
// candidates. The end of gathering is reported with Completed set.
func (p *Peer) SetOnICECandidate(send func(candidate domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.log.Debugf("ICE gathering complete")
			send(domain.ICECandidatePayload{Completed: true})
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			p.log.Tracef("filtering loopback ICE candidate")
			return
		}

		candidate := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = int(*init.SDPMLineIndex)
		}

		p.log.Debugf("local ICE candidate: %s", init.Candidate)
		send(candidate)
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	p.log.Debugf("local SDP offer set")
	return offer.SDP, nil
}

// CreateAnswer applies the remote offer and returns the local answer.
func (p *Peer) CreateAnswer(offer domain.SDPPayload) (string, error) {
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	p.markRemoteSet()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	p.log.Debugf("local SDP answer set")
	return answer.SDP, nil
}

// SetRemoteDescription applies the remote SDP answer.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}

	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.log.Debugf("remote SDP answer set")
	p.markRemoteSet()
	return nil
}

func (p *Peer) markRemoteSet() {
	p.remoteDescOnce.Do(func() { close(p.remoteDescSet) })
}

// AddRemoteICECandidate waits for the remote description to be set, then adds the candidate.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	select {
	case <-p.remoteDescSet:
	case <-p.closed:
		return ErrPeerClosed
	}

	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if candidate.SDPMid != "" {
		init.SDPMid = &candidate.SDPMid
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}

	p.log.Debugf("added remote ICE candidate")
	return nil
}

// Close stops sending and shuts down the PeerConnection.
func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
	p.ReplaceSource(nil)
	p.wmu.Lock()
	p.out = nil
	p.wmu.Unlock()
	if p.pc != nil {
		p.pc.Close()
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
