package negotiator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/media"
	"github.com/pion/datachannel"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	webrtc "github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

const (
	// DataChannelLabel is the label of the liveness data channel.
	DataChannelLabel = "walkie-talkie"

	// DataChannelPacketLifeTime bounds retransmissions on the data channel, in
	// milliseconds.
	DataChannelPacketLifeTime uint16 = 3000

	maxMessageSize = 4096
)

// Config configures a WebRTCFactory.
type Config struct {
	// ICEServers are the STUN and TURN servers used for candidate gathering.
	ICEServers []webrtc.ICEServer

	// Net, if not nil, replaces the operating-system network. Tests use a
	// virtual network.
	Net transport.Net

	// ICE timeouts. Zero values keep pion's defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	Logger *logrus.Entry
}

// WebRTCFactory creates pion/webrtc negotiators sharing one API object.
type WebRTCFactory struct {
	conf   Config
	api    *webrtc.API
	logger *logrus.Entry
}

// NewWebRTCFactory builds the media engine, interceptors and setting engine
// shared by all the negotiators it creates.
func NewWebRTCFactory(conf Config) (*WebRTCFactory, error) {
	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{
		LoggerFactory: newLoggerFactory(logger.WithField("prefix", "pion")),
	}
	se.DetachDataChannels()
	if conf.Net != nil {
		se.SetNet(conf.Net)
	}
	if conf.DisconnectedTimeout > 0 && conf.FailedTimeout > 0 && conf.KeepAliveInterval > 0 {
		se.SetICETimeouts(conf.DisconnectedTimeout, conf.FailedTimeout, conf.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	return &WebRTCFactory{
		conf:   conf,
		api:    api,
		logger: logger,
	}, nil
}

// New implements the Factory interface.
func (f *WebRTCFactory) New(role Role, handlers Handlers) (Negotiator, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.conf.ICEServers,
	})
	if err != nil {
		return nil, common.NewCallErr(common.Negotiation, "new peer connection", err)
	}

	n := &webrtcNegotiator{
		role:     role,
		pc:       pc,
		handlers: handlers,
		logger:   f.logger.WithField("role", role.String()),
	}

	if err := n.init(); err != nil {
		pc.Close()
		return nil, err
	}

	return n, nil
}

type webrtcNegotiator struct {
	role     Role
	pc       *webrtc.PeerConnection
	handlers Handlers

	// silence is sent while the microphone is disabled.
	silence *webrtc.TrackLocalStaticSample
	sender  *webrtc.RTPSender

	mu      sync.Mutex
	current webrtc.TrackLocal
	raw     datachannel.ReadWriteCloser

	disposed    atomic.Bool
	disposeOnce sync.Once
	disposeErr  error

	logger *logrus.Entry
}

func (n *webrtcNegotiator) init() error {
	silence, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+uuid.NewString(),
		"walkie",
	)
	if err != nil {
		return common.NewCallErr(common.Negotiation, "silence track", err)
	}
	n.silence = silence
	n.current = silence

	transceiver, err := n.pc.AddTransceiverFromTrack(silence, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return common.NewCallErr(common.Negotiation, "audio transceiver", err)
	}
	n.sender = transceiver.Sender()

	// Read incoming RTCP packets so that interceptors can process them.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := n.sender.Read(buf); err != nil {
				return
			}
		}
	}()

	n.pc.OnICECandidate(n.onICECandidate)
	n.pc.OnConnectionStateChange(n.onConnectionStateChange)
	n.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		n.logger.WithField("state", state.String()).Debug("ICE Connection State has changed")
	})
	n.pc.OnTrack(n.onTrack)

	if n.role == Initiator {
		ordered := true
		lifetime := DataChannelPacketLifeTime
		dc, err := n.pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{
			Ordered:           &ordered,
			MaxPacketLifeTime: &lifetime,
		})
		if err != nil {
			return common.NewCallErr(common.Negotiation, "data channel", err)
		}
		n.pipeDataChannel(dc)
	} else {
		n.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != DataChannelLabel {
				n.logger.WithField("label", dc.Label()).Debug("Ignoring unknown DataChannel")
				return
			}
			n.pipeDataChannel(dc)
		})
	}

	return nil
}

func (n *webrtcNegotiator) pipeDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			n.logger.WithError(err).Error("Error detaching DataChannel")
			return
		}

		n.mu.Lock()
		if n.disposed.Load() {
			n.mu.Unlock()
			raw.Close()
			return
		}
		n.raw = raw
		n.mu.Unlock()

		n.logger.Debug("DataChannel open")

		go n.readLoop(raw)
	})
}

func (n *webrtcNegotiator) readLoop(raw datachannel.ReadWriteCloser) {
	buf := make([]byte, maxMessageSize)
	for {
		count, _, err := raw.ReadDataChannel(buf)
		if err != nil {
			if !n.disposed.Load() {
				n.logger.WithError(err).Debug("DataChannel read loop stopped")
			}
			n.mu.Lock()
			if n.raw == raw {
				n.raw = nil
			}
			n.mu.Unlock()
			return
		}

		msg, err := decodeMessage(buf[:count])
		if err != nil {
			n.logger.WithError(err).Debug("Dropping malformed message")
			continue
		}

		if h := n.handlers.OnMessage; h != nil && !n.disposed.Load() {
			h(msg)
		}
	}
}

func (n *webrtcNegotiator) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil || n.disposed.Load() {
		return
	}

	data, err := common.EncodeJSON(c.ToJSON())
	if err != nil {
		n.logger.WithError(err).Error("Error encoding ICE candidate")
		return
	}

	if h := n.handlers.OnCandidate; h != nil {
		h(Candidate(data))
	}
}

func (n *webrtcNegotiator) onConnectionStateChange(state webrtc.PeerConnectionState) {
	n.logger.WithField("state", state.String()).Debug("Connection State has changed")

	if n.disposed.Load() {
		return
	}

	if h := n.handlers.OnStateChange; h != nil {
		h(fromPeerConnectionState(state))
	}
}

func (n *webrtcNegotiator) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	n.logger.WithField("codec", track.Codec().MimeType).Debug("Remote track")

	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if h := n.handlers.OnAudio; h != nil && !n.disposed.Load() {
				h(pkt)
			}
		}
	}()
}

// CreateOffer implements the Negotiator interface.
func (n *webrtcNegotiator) CreateOffer(ctx context.Context) (Description, error) {
	return n.createOffer(ctx, nil)
}

// Restart implements the Negotiator interface.
func (n *webrtcNegotiator) Restart(ctx context.Context) (Description, error) {
	if n.disposed.Load() ||
		n.pc.ConnectionState() == webrtc.PeerConnectionStateClosed ||
		n.pc.RemoteDescription() == nil {
		return Description{}, ErrRestartUnavailable
	}

	return n.createOffer(ctx, &webrtc.OfferOptions{ICERestart: true})
}

func (n *webrtcNegotiator) createOffer(ctx context.Context, opts *webrtc.OfferOptions) (Description, error) {
	if err := n.check(ctx); err != nil {
		return Description{}, err
	}

	offer, err := n.pc.CreateOffer(opts)
	if err != nil {
		return Description{}, common.NewCallErr(common.Negotiation, "create offer", err)
	}

	if err := n.pc.SetLocalDescription(offer); err != nil {
		return Description{}, common.NewCallErr(common.Negotiation, "set local offer", err)
	}

	return Description{Type: TypeOffer, SDP: offer.SDP}, nil
}

// CreateAnswer implements the Negotiator interface.
func (n *webrtcNegotiator) CreateAnswer(ctx context.Context) (Description, error) {
	if err := n.check(ctx); err != nil {
		return Description{}, err
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, common.NewCallErr(common.Negotiation, "create answer", err)
	}

	if err := n.pc.SetLocalDescription(answer); err != nil {
		return Description{}, common.NewCallErr(common.Negotiation, "set local answer", err)
	}

	return Description{Type: TypeAnswer, SDP: answer.SDP}, nil
}

// ApplyRemote implements the Negotiator interface.
func (n *webrtcNegotiator) ApplyRemote(ctx context.Context, desc Description) error {
	if err := n.check(ctx); err != nil {
		return err
	}

	var sdpType webrtc.SDPType
	switch desc.Type {
	case TypeOffer:
		sdpType = webrtc.SDPTypeOffer
	case TypeAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return common.NewCallErr(common.Negotiation, "apply remote", errors.New("unknown description type "+desc.Type))
	}

	if desc.SDP == "" {
		return common.NewCallErr(common.Negotiation, "apply remote", errors.New("empty description"))
	}

	err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP})
	if err != nil {
		return common.NewCallErr(common.Negotiation, "apply remote", err)
	}

	return nil
}

// ApplyCandidate implements the Negotiator interface.
func (n *webrtcNegotiator) ApplyCandidate(c Candidate) error {
	if n.disposed.Load() {
		return common.NewCallErr(common.CandidateApply, "apply candidate", ErrDisposed)
	}

	var init webrtc.ICECandidateInit
	if err := common.DecodeJSON([]byte(c), &init); err != nil {
		return common.NewCallErr(common.CandidateApply, "decode candidate", err)
	}

	if err := n.pc.AddICECandidate(init); err != nil {
		return common.NewCallErr(common.CandidateApply, "apply candidate", err)
	}

	return nil
}

// SetAudio implements the Negotiator interface.
func (n *webrtcNegotiator) SetAudio(mic media.Microphone, enabled bool) error {
	if n.disposed.Load() {
		return ErrDisposed
	}

	var track webrtc.TrackLocal = n.silence
	if enabled && mic != nil {
		track = mic.Track()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if track == n.current {
		return nil
	}

	if err := n.sender.ReplaceTrack(track); err != nil {
		return err
	}
	n.current = track

	return nil
}

// Send implements the Negotiator interface.
func (n *webrtcNegotiator) Send(msg Message) error {
	if n.disposed.Load() {
		return ErrDisposed
	}

	n.mu.Lock()
	raw := n.raw
	n.mu.Unlock()

	if raw == nil {
		return ErrChannelNotOpen
	}

	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	_, err = raw.WriteDataChannel(data, true)
	return err
}

// Health implements the Negotiator interface.
func (n *webrtcNegotiator) Health() Health {
	conn := n.pc.ConnectionState()
	ice := n.pc.ICEConnectionState()

	degraded := false
	switch conn {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		degraded = true
	}
	switch ice {
	case webrtc.ICEConnectionStateDisconnected,
		webrtc.ICEConnectionStateFailed,
		webrtc.ICEConnectionStateClosed:
		degraded = true
	}

	return Health{
		Connection: fromPeerConnectionState(conn),
		ICE:        ice.String(),
		Degraded:   degraded,
	}
}

// Dispose implements the Negotiator interface.
func (n *webrtcNegotiator) Dispose() error {
	n.disposeOnce.Do(func() {
		n.mu.Lock()
		n.disposed.Store(true)
		raw := n.raw
		n.raw = nil
		n.mu.Unlock()

		if raw != nil {
			raw.Close()
		}

		n.disposeErr = n.pc.Close()

		n.logger.Debug("Negotiator disposed")
	})
	return n.disposeErr
}

func (n *webrtcNegotiator) check(ctx context.Context) error {
	if n.disposed.Load() {
		return common.NewCallErr(common.Negotiation, "check", ErrDisposed)
	}
	if err := ctx.Err(); err != nil {
		return common.NewCallErr(common.Negotiation, "check", err)
	}
	return nil
}

func fromPeerConnectionState(state webrtc.PeerConnectionState) State {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return Connecting
	case webrtc.PeerConnectionStateConnected:
		return Connected
	case webrtc.PeerConnectionStateDisconnected:
		return Disconnected
	case webrtc.PeerConnectionStateFailed:
		return Failed
	case webrtc.PeerConnectionStateClosed:
		return Closed
	default:
		return New
	}
}
