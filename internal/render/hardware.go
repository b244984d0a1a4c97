package render

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"chipscore/internal/services"
)

// HardwareEngine renders by driving a real chip over a REST control channel
// and capturing the resulting PCM over UDP. The stream transport is lossy;
// packets carry sequence numbers so the capture can report a loss rate, and
// the render fails outright when loss exceeds the configured threshold.
//
// The engine owns exactly one render at a time and does not manage the
// device's lifecycle beyond a single start/stop pair.
type HardwareEngine struct {
	ControlURL    string
	StreamBind    string
	MaxLossRate   float64
	StreamTimeout time.Duration

	client *http.Client
}

// NewHardwareEngine constructs the capture engine.
func NewHardwareEngine(controlURL, streamBind string, maxLossRate float64, streamTimeout time.Duration) *HardwareEngine {
	return &HardwareEngine{
		ControlURL:    controlURL,
		StreamBind:    streamBind,
		MaxLossRate:   maxLossRate,
		StreamTimeout: streamTimeout,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *HardwareEngine) Name() string { return "hardware" }

func (e *HardwareEngine) Available(ctx context.Context) bool {
	if e.ControlURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.ControlURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type startStreamRequest struct {
	Source     string `json:"source"`
	SubIndex   int    `json:"sub_index"`
	MaxSeconds int    `json:"max_seconds"`
	SampleRate int    `json:"sample_rate"`
	StreamAddr string `json:"stream_addr"`
}

func (e *HardwareEngine) Render(ctx context.Context, req Request) (*RenderedAudio, error) {
	conn, err := net.ListenPacket("udp", e.StreamBind)
	if err != nil {
		return nil, services.Wrap(services.ErrRender, "rendering", "open capture socket", "", err)
	}
	defer conn.Close()

	if err := e.control(ctx, "/control/model", map[string]string{"chip_model": req.ChipModel}); err != nil {
		return nil, err
	}
	startReq := startStreamRequest{
		Source:     req.SourcePath,
		SubIndex:   req.SubIndex,
		MaxSeconds: req.MaxSeconds,
		SampleRate: req.SampleRate,
		StreamAddr: conn.LocalAddr().String(),
	}
	if err := e.control(ctx, "/control/start", startReq); err != nil {
		return nil, err
	}
	// Best-effort stop; the device also stops on its own at max_seconds.
	defer func() { _ = e.control(context.WithoutCancel(ctx), "/control/stop", nil) }()

	samples, stats, err := e.capture(ctx, conn, req)
	if err != nil {
		return nil, err
	}
	if stats.LossRate > e.MaxLossRate {
		return nil, services.Wrap(services.ErrRender, "rendering", "hardware capture",
			fmt.Sprintf("loss rate %.2f%% exceeds threshold %.2f%% (%d/%d packets)",
				stats.LossRate*100, e.MaxLossRate*100, stats.PacketsReceived, stats.PacketsExpected), nil)
	}

	return &RenderedAudio{
		Samples:    samples,
		SampleRate: req.SampleRate,
		Channels:   1,
		Duration:   time.Duration(float64(len(samples)) / float64(req.SampleRate) * float64(time.Second)),
		Engine:     e.Name(),
		RenderMode: ModeCaptured,
		Capture:    &stats,
	}, nil
}

// capture reads sequenced PCM packets until the device signals stop (an
// empty-payload packet) or the stream deadline passes. Packets may arrive out
// of order; sequence numbers place payloads and count loss.
func (e *HardwareEngine) capture(ctx context.Context, conn net.PacketConn, req Request) ([]float64, CaptureStats, error) {
	const headerSize = 4
	// Payload sizing follows the device protocol: 256 frames per packet.
	const framesPerPacket = 256

	deadline := time.Now().Add(e.StreamTimeout + time.Duration(req.MaxSeconds)*time.Second)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	maxFrames := req.MaxSeconds * req.SampleRate
	samples := make([]float64, maxFrames)
	received := make(map[uint32]struct{})
	var maxSeq uint32
	stopped := false
	buf := make([]byte, 65536)

	for !stopped {
		select {
		case <-ctx.Done():
			return nil, CaptureStats{}, services.Wrap(services.ErrTimeout, "rendering", "hardware capture", "capture cancelled", ctx.Err())
		default:
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Deadline without an explicit stop event still ends the
				// capture; whatever arrived is judged by the loss threshold.
				break
			}
			return nil, CaptureStats{}, services.Wrap(services.ErrRender, "rendering", "hardware capture", "", err)
		}
		if n < headerSize {
			continue
		}
		seq := binary.BigEndian.Uint32(buf[:headerSize])
		payload := buf[headerSize:n]
		if len(payload) == 0 {
			stopped = true
			continue
		}
		if _, dup := received[seq]; dup {
			continue
		}
		received[seq] = struct{}{}
		if seq > maxSeq {
			maxSeq = seq
		}

		offset := int(seq) * framesPerPacket
		for i := 0; i+1 < len(payload) && offset+i/2 < maxFrames; i += 2 {
			samples[offset+i/2] = float64(int16(binary.LittleEndian.Uint16(payload[i:i+2]))) / 32768
		}
	}

	if len(received) == 0 {
		return nil, CaptureStats{}, services.Wrap(services.ErrRender, "rendering", "hardware capture", "no packets received before timeout", nil)
	}

	expected := int(maxSeq) + 1
	stats := CaptureStats{
		PacketsReceived: len(received),
		PacketsExpected: expected,
		LossRate:        1 - float64(len(received))/float64(expected),
	}

	frames := (int(maxSeq) + 1) * framesPerPacket
	if frames > maxFrames {
		frames = maxFrames
	}
	return samples[:frames], stats, nil
}

func (e *HardwareEngine) control(ctx context.Context, path string, payload any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return services.Wrap(services.ErrRender, "rendering", "encode control request", "", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.ControlURL+path, &body)
	if err != nil {
		return services.Wrap(services.ErrRender, "rendering", "build control request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrRender, "rendering", "control channel "+path, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrRender, "rendering", "control channel "+path,
			fmt.Sprintf("device returned %s", resp.Status), nil)
	}
	return nil
}
