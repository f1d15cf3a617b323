// Package decode implements the client's receive-side pipeline: a
// coalescing video queue that collapses on keyframe boundaries (a new
// keyframe drops everything queued ahead of it, per spec scenario S6),
// a bounded presentation ring, and an audio PCM ring served by a worker
// pool off the receive-loop goroutine. Grounded on the teacher's
// session_stream.go jitter-buffer discard policy and internal/workerpool
// for the off-loop decode worker.
package decode

import (
	"context"
	"fmt"
	"sync"

	"github.com/breeze-rmm/deskstream/internal/codec"
	"github.com/breeze-rmm/deskstream/internal/frame"
	"github.com/breeze-rmm/deskstream/internal/logging"
	"github.com/breeze-rmm/deskstream/internal/workerpool"
)

var log = logging.L("decode")

// presentationRingSize bounds the decoded-frame backlog presented to the
// renderer; spec §9 calls for "a small bounded ring", not an unbounded
// queue, since a renderer that falls behind should drop, not buffer.
const presentationRingSize = 32

// audioRingFrames bounds the PCM backlog to roughly four 960-sample
// stereo frames (20ms at 48kHz), matching spec §4.7's audio latency
// budget.
const audioRingFrames = 4

// Config parameterizes a Pipeline's decoders.
type Config struct {
	Video codec.VideoConfig
	Audio codec.AudioConfig
}

// AudioFrame is one decoded PCM buffer ready for playback.
type AudioFrame struct {
	PCM      []byte
	Channels uint32
}

// Pipeline decodes incoming video and audio bitstreams into presentable
// output, coalescing video under backpressure rather than queuing it.
type Pipeline struct {
	videoDec  *codec.VideoDecoder
	audioPool *workerpool.Pool

	mu      sync.Mutex
	pending []frame.Frame[frame.Bitstream] // latest keyframe plus its trailing non-keyframes
	wake    chan struct{}

	lastCursorPos   *frame.CursorPos
	lastCursorShape *frame.CursorShape

	frames chan frame.Frame[frame.Pixels]
	audio  chan AudioFrame

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New constructs a Pipeline. The audio decode path runs on pool; pass a
// pool sized for one or two concurrent decode tasks, since audio frames
// arrive far more often than they need parallel decode.
func New(cfg Config, pool *workerpool.Pool) (*Pipeline, error) {
	var videoDec *codec.VideoDecoder
	if cfg.Video.Codec != "" {
		dec, err := codec.NewVideoDecoder(cfg.Video)
		if err != nil {
			return nil, fmt.Errorf("decode: construct video decoder: %w", err)
		}
		videoDec = dec
	}

	return &Pipeline{
		videoDec:  videoDec,
		audioPool: pool,
		wake:      make(chan struct{}, 1),
		frames:    make(chan frame.Frame[frame.Pixels], presentationRingSize),
		audio:     make(chan AudioFrame, audioRingFrames),
	}, nil
}

// Frames returns the channel of decoded pixel frames ready to present.
func (p *Pipeline) Frames() <-chan frame.Frame[frame.Pixels] {
	return p.frames
}

// Audio returns the channel of decoded PCM frames ready to play.
func (p *Pipeline) Audio() <-chan AudioFrame {
	return p.audio
}

// Start launches the video decode loop. Call once.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.decodeLoop(ctx)
}

// PushVideo enqueues a received bitstream frame for decode. The queue
// coalesces on keyframe boundaries: a new keyframe drops every frame
// queued ahead of it (an older keyframe and whatever non-keyframes
// followed it) and survives alone, while a non-keyframe is appended
// behind whatever keyframe is already queued, since the decoder still
// needs it in order once it reaches its reference frame. Either way, a
// cursor_pos/cursor_shape carried by the new frame updates the
// pipeline's "last seen" snapshot, and a frame arriving without its own
// update inherits that snapshot — so cursor state is sticky across drops
// per spec scenario S6 even though pictures in between are discarded.
func (p *Pipeline) PushVideo(f frame.Frame[frame.Bitstream]) {
	p.mu.Lock()
	if f.CursorPos != nil {
		p.lastCursorPos = f.CursorPos
	} else {
		f.CursorPos = p.lastCursorPos
	}
	if f.CursorShape != nil {
		p.lastCursorShape = f.CursorShape
	} else {
		f.CursorShape = p.lastCursorShape
	}

	if f.IsKeyFrame {
		p.pending = []frame.Frame[frame.Bitstream]{f}
	} else {
		p.pending = append(p.pending, f)
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// PushAudio hands a received audio frame to the Audio channel, off the
// caller's goroutine via the worker pool when one was given. No audio
// decoder runs here, whatever Config.Audio names: the bytes are forwarded
// unchanged as PCM.
func (p *Pipeline) PushAudio(data []byte, channels uint32) {
	submit := func() {
		select {
		case p.audio <- AudioFrame{PCM: data, Channels: channels}:
		default:
			log.Warn("audio ring full, dropping frame")
		}
	}
	if p.audioPool == nil {
		submit()
		return
	}
	if !p.audioPool.Submit(submit) {
		log.Warn("audio decode submit rejected, pool queue full")
	}
}

func (p *Pipeline) decodeLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		p.mu.Lock()
		batch := p.pending
		p.pending = nil
		p.mu.Unlock()
		if len(batch) == 0 {
			continue
		}
		if p.videoDec == nil {
			continue
		}

		for _, in := range batch {
			if err := p.videoDec.Push(in); err != nil {
				log.Warn("video decode push failed", "error", err)
				continue
			}

			for {
				out, status, err := p.videoDec.TryPull()
				if err != nil {
					log.Warn("video decode pull failed", "error", err)
					break
				}
				if status != codec.Ready {
					break
				}
				select {
				case p.frames <- out:
				default:
					// Presentation ring is full: drop the oldest to make
					// room rather than block the decode loop on a slow
					// renderer.
					select {
					case <-p.frames:
					default:
					}
					select {
					case p.frames <- out:
					default:
					}
				}
			}
		}
	}
}

// Close stops the decode loop and releases the decoder.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.videoDec != nil {
		_ = p.videoDec.Close()
	}
}
