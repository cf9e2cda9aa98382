package transferwebrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sheerbytes/dcfile/internal/clienthttp"
)

// OfferPath is the HTTP path a receiver answers WebRTC offers on.
const OfferPath = "/webrtc/offer"

const (
	maxOfferSize     = 64 * 1024
	gatheringTimeout = 10 * time.Second
)

// ServeFunc consumes one accepted frame channel. The peer connection is
// closed when it returns.
type ServeFunc func(ctx context.Context, ch *Channel)

// AnswerHandler answers WebRTC offers over HTTP. Offers and answers carry
// complete candidate lists, so no trickle signalling is needed.
type AnswerHandler struct {
	ctx       context.Context
	config    webrtc.Configuration
	queueSize int
	logger    *slog.Logger
	serve     ServeFunc
}

// NewAnswerHandler returns a handler that passes every frame channel opened
// by a remote peer to serve. ctx bounds the lifetime of the accepted peers.
func NewAnswerHandler(ctx context.Context, config webrtc.Configuration, logger *slog.Logger, serve ServeFunc) *AnswerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerHandler{
		ctx:       ctx,
		config:    config,
		queueSize: DefaultQueueSize,
		logger:    logger,
		serve:     serve,
	}
}

func (h *AnswerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOfferSize)).Decode(&offer); err != nil {
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		http.Error(w, "expected an sdp offer", http.StatusBadRequest)
		return
	}

	logger := h.logger.With("remote_addr", r.RemoteAddr)
	answer, err := h.answer(r.Context(), offer, logger)
	if err != nil {
		logger.Error("failed to answer offer", "error", err)
		http.Error(w, "failed to answer offer", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}

func (h *AnswerHandler) answer(ctx context.Context, offer webrtc.SessionDescription, logger *slog.Logger) (webrtc.SessionDescription, error) {
	pc, err := NewPeerConnection(h.config)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			pc.Close()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Warn("ignoring unexpected data channel", "label", dc.Label())
			dc.Close()
			return
		}
		ch := NewChannel(dc, h.queueSize, logger)
		go func() {
			defer pc.Close()
			if err := ch.WaitOpen(h.ctx); err != nil {
				logger.Warn("data channel never opened", "error", err)
				return
			}
			logger.Info("frame channel accepted")
			h.serve(h.ctx, ch)
		}()
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := setLocalAndGather(ctx, pc, answer); err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, err
	}
	return *pc.LocalDescription(), nil
}

// setLocalAndGather applies desc and waits until ICE gathering completes, so
// the local description lists every candidate.
func setLocalAndGather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(gatheringTimeout):
		return errors.New("timeout gathering ICE candidates")
	}
}

// Peer is the sending side of a WebRTC frame channel.
type Peer struct {
	Channel *Channel
	pc      *webrtc.PeerConnection
}

// Dial offers a frame channel to the receiver answering at offerURL and
// waits until the channel is open.
func Dial(ctx context.Context, offerURL string, config webrtc.Configuration, logger *slog.Logger) (*Peer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	dc, err := pc.CreateDataChannel(ChannelLabel, channelInit())
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	ch := NewChannel(dc, DefaultQueueSize, logger)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := setLocalAndGather(ctx, pc, offer); err != nil {
		pc.Close()
		return nil, err
	}

	var answer webrtc.SessionDescription
	if err := clienthttp.PostJSON(ctx, offerURL, pc.LocalDescription(), &answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("signalling failed: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	if err := ch.WaitOpen(ctx); err != nil {
		pc.Close()
		return nil, err
	}
	logger.Info("frame channel open", "label", dc.Label())
	return &Peer{Channel: ch, pc: pc}, nil
}

// Close tears down the channel and the peer connection.
func (p *Peer) Close() error {
	p.Channel.Close()
	return p.pc.Close()
}
