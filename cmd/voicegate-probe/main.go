// Command voicegate-probe exercises a running gateway end to end: it
// creates a session, attaches over WebSocket, sends one user turn as
// typed text, a WAV file, or a generated tone, and prints every server
// event until the turn completes.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/voicegate-io/voicegate/pkg/core/audio"
	"github.com/voicegate-io/voicegate/pkg/gateway/protocol"
)

const (
	sampleRateHz = 16000
	bytesPerMS   = sampleRateHz * 2 / 1000
)

type options struct {
	gateway   string
	sessionID string
	text      string
	wavPath   string
	toneMS    int
	toneHz    float64
	frameMS   int
	tailMS    int
	outPath   string
	timeout   time.Duration
	debug     bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		return 1
	}

	var opt options
	flag.StringVar(&opt.gateway, "gateway", "http://localhost:8100", "Gateway base URL (http(s)://host:port or ws(s)://...)")
	flag.StringVar(&opt.sessionID, "session", "", "Attach to an existing session instead of creating one")
	flag.StringVar(&opt.text, "text", "", "Send a typed turn instead of audio")
	flag.StringVar(&opt.wavPath, "wav", "", "Stream this WAV file as the utterance (16-bit PCM; resampled to 16kHz)")
	flag.IntVar(&opt.toneMS, "tone-ms", 1500, "Duration of the generated test tone when no -text or -wav is given")
	flag.Float64Var(&opt.toneHz, "tone-hz", 440, "Frequency of the generated test tone")
	flag.IntVar(&opt.frameMS, "frame-ms", 20, "Audio frame duration in ms")
	flag.IntVar(&opt.tailMS, "tail-ms", 1200, "Silence appended after the utterance so endpointing can close the turn")
	flag.StringVar(&opt.outPath, "out", "", "Write reply audio to this WAV file")
	flag.DurationVar(&opt.timeout, "timeout", 30*time.Second, "How long to wait for the turn to complete")
	flag.BoolVar(&opt.debug, "debug", false, "Print raw server frames to stderr")
	flag.Parse()

	if opt.frameMS <= 0 {
		fmt.Fprintln(os.Stderr, "-frame-ms must be > 0")
		return 2
	}
	if opt.tailMS < 0 {
		fmt.Fprintln(os.Stderr, "-tail-ms must be >= 0")
		return 2
	}
	if opt.text == "" && opt.wavPath == "" && opt.toneMS <= 0 {
		fmt.Fprintln(os.Stderr, "-tone-ms must be > 0 when no -text or -wav is given")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runProbe(ctx, opt); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "voicegate-probe:", err)
		return 1
	}
	return 0
}

func runProbe(ctx context.Context, opt options) error {
	var utterance []byte
	if opt.text == "" {
		var err error
		utterance, err = loadUtterance(opt)
		if err != nil {
			return err
		}
	}

	sessionID := strings.TrimSpace(opt.sessionID)
	if sessionID == "" {
		var err error
		sessionID, err = createSession(ctx, opt.gateway)
		if err != nil {
			return err
		}
	}

	wsURL, err := gatewayWSURL(opt.gateway, sessionID)
	if err != nil {
		return fmt.Errorf("invalid -gateway: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	if err := awaitSessionInfo(conn); err != nil {
		return err
	}

	var writeMu sync.Mutex
	sendJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}
	sendBinary := func(p []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, p)
	}

	rd := &eventReader{debug: opt.debug}
	readerErr := make(chan error, 1)
	turnDone := make(chan struct{}, 1)
	go func() { readerErr <- rd.run(conn, turnDone) }()

	if opt.text != "" {
		if err := sendJSON(protocol.ClientText{Type: protocol.TypeText, Content: opt.text}); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	} else {
		if err := streamPCM(ctx, sendBinary, utterance, opt.frameMS); err != nil {
			return fmt.Errorf("stream audio: %w", err)
		}
	}

	readerExited := false
	select {
	case <-turnDone:
	case err := <-readerErr:
		readerExited = true
		if cerr := connectionError(err); cerr != nil {
			return cerr
		}
	case <-time.After(opt.timeout):
		fmt.Fprintln(os.Stderr, "[warn] turn did not complete in time; closing")
	case <-ctx.Done():
	}

	if !readerExited {
		_ = sendJSON(protocol.ClientEndSession{Type: protocol.TypeEndSession})
		select {
		case err := <-readerErr:
			readerExited = true
			if cerr := connectionError(err); cerr != nil {
				return cerr
			}
		case <-time.After(5 * time.Second):
			fmt.Fprintln(os.Stderr, "[warn] gateway did not close the connection; giving up")
		}
	}

	if readerExited && opt.outPath != "" && rd.replyPCM.Len() > 0 {
		if err := os.WriteFile(opt.outPath, audio.EncodeWAV(rd.replyPCM.Bytes(), sampleRateHz), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opt.outPath, err)
		}
		fmt.Printf("[audio] wrote %d bytes of reply audio to %s\n", rd.replyPCM.Len(), opt.outPath)
	}
	return nil
}

// awaitSessionInfo consumes the gateway's greeting so connection
// problems surface as handshake errors rather than mid-stream noise.
func awaitSessionInfo(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var info protocol.SessionInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("handshake: invalid frame: %w", err)
		}
		if info.Type != protocol.TypeSessionInfo {
			return fmt.Errorf("handshake: expected %s, got %q", protocol.TypeSessionInfo, info.Type)
		}
		fmt.Printf("[connected] session_id=%s\n", info.SessionID)
		return nil
	}
}

type eventReader struct {
	debug    bool
	replyPCM bytes.Buffer
	sawTurn  bool
}

// run prints server events until the connection drops. Each time a turn
// visibly ran and the pipeline settled back to idle it signals turnDone.
func (r *eventReader) run(conn *websocket.Conn, turnDone chan<- struct{}) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if r.debug {
			fmt.Fprintf(os.Stderr, "[raw] %s\n", data)
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			fmt.Fprintln(os.Stderr, "[warn] invalid server frame:", err)
			continue
		}

		switch envelope.Type {
		case protocol.TypeStatus:
			var st protocol.Status
			if err := json.Unmarshal(data, &st); err != nil {
				continue
			}
			fmt.Printf("[status] %s (%s)\n", st.State, st.Stage)
			if st.State == "idle" && r.sawTurn {
				r.sawTurn = false
				select {
				case turnDone <- struct{}{}:
				default:
				}
			} else if st.State != "idle" {
				r.sawTurn = true
			}
		case protocol.TypeTranscript:
			var tr protocol.Transcript
			if err := json.Unmarshal(data, &tr); err != nil {
				continue
			}
			state := "partial"
			if tr.IsFinal {
				state = "final"
			}
			fmt.Printf("[transcript:%s] %s (backend=%s confidence=%.2f)\n", state, tr.Text, tr.Backend, tr.Confidence)
		case protocol.TypeResponse:
			var resp protocol.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			fmt.Printf("[response] %s\n", resp.Text)
		case protocol.TypeResponseAudio:
			var ra protocol.ResponseAudio
			if err := json.Unmarshal(data, &ra); err != nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(ra.DataB64)
			if err != nil {
				fmt.Fprintln(os.Stderr, "[warn] bad response_audio payload:", err)
				continue
			}
			r.replyPCM.Write(pcm)
			fmt.Printf("[audio] %d bytes (%.1fs total)\n", len(pcm), float64(r.replyPCM.Len())/float64(sampleRateHz*2))
		case protocol.TypeError:
			var em protocol.ErrorMessage
			if err := json.Unmarshal(data, &em); err != nil {
				continue
			}
			fmt.Fprintf(os.Stderr, "[error] %s: %s\n", em.Code, em.Message)
		case protocol.TypePong, protocol.TypeSessionInfo:
			// session_info is consumed during the handshake; pongs are liveness only.
		default:
			fmt.Fprintf(os.Stderr, "[warn] unknown server frame type %q\n", envelope.Type)
		}
	}
}

// connectionError maps an orderly close to nil and reports anything else.
func connectionError(err error) error {
	if err == nil {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
		if strings.TrimSpace(ce.Text) != "" {
			fmt.Printf("[closed] %s\n", ce.Text)
		}
		return nil
	}
	return fmt.Errorf("connection lost: %w", err)
}

// streamPCM paces frames at real time so server-side endpointing sees
// the utterance the way a live microphone would deliver it.
func streamPCM(ctx context.Context, send func([]byte) error, pcm []byte, frameMS int) error {
	frameBytes := frameMS * bytesPerMS
	ticker := time.NewTicker(time.Duration(frameMS) * time.Millisecond)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += frameBytes {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		end := min(off+frameBytes, len(pcm))
		if err := send(pcm[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func loadUtterance(opt options) ([]byte, error) {
	var pcm []byte
	if opt.wavPath != "" {
		data, err := os.ReadFile(opt.wavPath)
		if err != nil {
			return nil, err
		}
		decoded, rate, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", opt.wavPath, err)
		}
		if rate != sampleRateHz {
			decoded = audio.EncodePCM16(audio.Resample(audio.DecodePCM16(decoded), rate, sampleRateHz))
		}
		pcm = decoded
	} else {
		pcm = tonePCM(opt.toneHz, opt.toneMS)
	}
	// Trailing silence lets the voice activity detector close the turn.
	return append(pcm, make([]byte, opt.tailMS*bytesPerMS)...), nil
}

// tonePCM synthesizes a sine burst loud enough to clear the gateway's
// energy gate, with short edge fades to avoid clicks.
func tonePCM(hz float64, ms int) []byte {
	n := sampleRateHz * ms / 1000
	fade := sampleRateHz / 100
	samples := make([]float64, n)
	for i := range samples {
		v := 0.3 * math.Sin(2*math.Pi*hz*float64(i)/sampleRateHz)
		if i < fade {
			v *= float64(i) / float64(fade)
		}
		if n-i <= fade {
			v *= float64(n-i) / float64(fade)
		}
		samples[i] = v
	}
	return audio.EncodePCM16(samples)
}

func createSession(ctx context.Context, gateway string) (string, error) {
	base, err := gatewayHTTPURL(gateway)
	if err != nil {
		return "", fmt.Errorf("invalid -gateway: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/sessions", nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusCreated {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			return "", fmt.Errorf("create session: http %d: %s", resp.StatusCode, envelope.Error.Message)
		}
		return "", fmt.Errorf("create session: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("create session: invalid response: %w", err)
	}
	if strings.TrimSpace(created.SessionID) == "" {
		return "", fmt.Errorf("create session: response missing session_id")
	}
	return created.SessionID, nil
}

func parseGateway(gateway string) (*url.URL, error) {
	raw := strings.TrimSpace(gateway)
	if raw == "" {
		return nil, fmt.Errorf("empty gateway")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func gatewayHTTPURL(gateway string) (string, error) {
	u, err := parseGateway(gateway)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func gatewayWSURL(gateway, sessionID string) (string, error) {
	u, err := parseGateway(gateway)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/" + sessionID
	return u.String(), nil
}
