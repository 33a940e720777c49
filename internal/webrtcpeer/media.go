package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// VideoSource yields encoded VP8 frames. ReadSample blocks until the next
// frame is ready and returns io.EOF when the source is exhausted.
type VideoSource interface {
	ReadSample(ctx context.Context) (media.Sample, error)
}

// MediaEngine attaches local tracks to a peer connection. Capture and
// encoding live behind VideoSource.
type MediaEngine struct {
	h        *Handle
	streamID string
	log      *slog.Logger
}

func NewMediaEngine(h *Handle, streamID string, logger *slog.Logger) *MediaEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaEngine{h: h, streamID: streamID, log: logger}
}

// TrackHandle is a local video track added to the connection.
type TrackHandle struct {
	Track  *webrtc.TrackLocalStaticSample
	Sender *webrtc.RTPSender

	source VideoSource
	log    *slog.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// CreateVideoTrack adds a VP8 track named name to the connection. A nil
// source gives a track that is negotiated but never carries frames.
func (e *MediaEngine) CreateVideoTrack(name string, source VideoSource) (*TrackHandle, error) {
	if name == "" {
		return nil, errors.New("track name must not be empty")
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		name,
		e.streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("new track: %w", err)
	}
	sender, err := e.h.PeerConnection().AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	e.log.Debug("video track added", "track", name, "stream", e.streamID)
	return &TrackHandle{
		Track:  track,
		Sender: sender,
		source: source,
		log:    e.log.With("track", name),
		done:   make(chan struct{}),
	}, nil
}

// Start pumps frames from the source into the track and drains RTCP from the
// sender so the interceptors keep running. It returns immediately.
func (t *TrackHandle) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		ctx, t.cancel = context.WithCancel(ctx)
		go t.readRTCP()
		go t.pump(ctx)
	})
}

// Stop ends the pump and waits for it. Safe to call without Start.
func (t *TrackHandle) Stop() {
	t.startOnce.Do(func() { close(t.done) })
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
}

// Done is closed when the pump has exited.
func (t *TrackHandle) Done() <-chan struct{} { return t.done }

func (t *TrackHandle) pump(ctx context.Context) {
	defer close(t.done)
	if t.source == nil {
		<-ctx.Done()
		return
	}
	for {
		sample, err := t.source.ReadSample(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			t.log.Warn("video source failed", "err", err)
			return
		}
		if err := t.Track.WriteSample(sample); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			t.log.Debug("write sample failed", "err", err)
		}
	}
}

func (t *TrackHandle) readRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := t.Sender.Read(buf); err != nil {
			return
		}
	}
}
