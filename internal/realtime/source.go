package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxscribe/internal/media"
	"github.com/MrWong99/voxscribe/pkg/audio"
)

// Source kinds accepted by [OpenSource].
const (
	SourceFFmpeg    = "ffmpeg"
	SourceStdin     = "stdin"
	SourceWebSocket = "ws"
)

// SourceConfig selects and configures the live audio source.
type SourceConfig struct {
	// Kind is one of SourceFFmpeg, SourceStdin or SourceWebSocket.
	Kind string

	// InputFormat and Device are passed to ffmpeg as "-f InputFormat -i
	// Device", e.g. "alsa" and "default".
	InputFormat string
	Device      string

	// URL is the websocket relay to dial. Binary messages carry raw PCM.
	URL string

	// Header is sent with the websocket handshake.
	Header http.Header

	// Format describes the PCM of stdin and websocket sources. ffmpeg always
	// delivers the capture tool's format.
	Format audio.Format
}

// OpenSource opens the configured live source and returns the stream with its
// PCM format. The caller closes the stream.
func OpenSource(ctx context.Context, cfg SourceConfig, tool *media.Tool) (io.ReadCloser, audio.Format, error) {
	format := cfg.Format
	if format == (audio.Format{}) {
		format = audio.SpeechFormat
	}
	switch cfg.Kind {
	case SourceFFmpeg, "":
		rc, err := tool.Capture(ctx, cfg.InputFormat, cfg.Device)
		if err != nil {
			return nil, audio.Format{}, err
		}
		return rc, tool.Format(), nil
	case SourceStdin:
		return io.NopCloser(os.Stdin), format, nil
	case SourceWebSocket:
		rc, err := DialWebSocket(ctx, cfg.URL, cfg.Header)
		if err != nil {
			return nil, audio.Format{}, err
		}
		return rc, format, nil
	default:
		return nil, audio.Format{}, fmt.Errorf("realtime: unknown source %q", cfg.Kind)
	}
}

// DialWebSocket connects to a relay that streams PCM as binary messages and
// exposes it as a byte stream. A normal close from the relay reads as io.EOF.
func DialWebSocket(ctx context.Context, url string, header http.Header) (io.ReadCloser, error) {
	if url == "" {
		return nil, fmt.Errorf("realtime: websocket source needs a url")
	}
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial %s: %w", url, err)
	}
	// Live audio frames are small but a relay may batch seconds of PCM.
	conn.SetReadLimit(4 << 20)
	return websocket.NetConn(ctx, conn, websocket.MessageBinary), nil
}
