package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// URL composition: http://mary.dfki.de:59125/documentation.html
const (
	audioParams  = "&OUTPUT_TYPE=AUDIO&AUDIO=WAVE_FILE"
	timingParams = "&OUTPUT_TYPE=REALISED_DURATIONS"
)

// MaryConfig configures the MaryTTS client.
type MaryConfig struct {
	ServerURL string        `json:"server_url"` // "localhost:59125" or "http://host:port"
	Timeout   time.Duration `json:"timeout"`    // per request, 0 disables
}

// DefaultMaryConfig returns sensible defaults
func DefaultMaryConfig() *MaryConfig {
	return &MaryConfig{
		ServerURL: "localhost:59125",
		Timeout:   30 * time.Second,
	}
}

// MaryClient talks to a MaryTTS HTTP server.
type MaryClient struct {
	baseURL string
	config  *MaryConfig
	client  *http.Client
	logger  zerolog.Logger
}

// NewMaryClient creates a MaryTTS client.
func NewMaryClient(config *MaryConfig, logger zerolog.Logger) *MaryClient {
	if config == nil {
		config = DefaultMaryConfig()
	}

	base := strings.TrimSuffix(config.ServerURL, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &MaryClient{
		baseURL: base,
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger.With().Str("provider", "marytts").Logger(),
	}
}

func (c *MaryClient) Name() string {
	return "marytts"
}

// ProcessURL returns the /process URL shared by both requests of u, without
// the output type parameters.
func (c *MaryClient) ProcessURL(u Utterance) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/process?INPUT_TEXT=")
	b.WriteString(url.QueryEscape(u.Text))
	b.WriteString("&INPUT_TYPE=TEXT")
	b.WriteString("&VOICE=")
	b.WriteString(url.QueryEscape(u.Voice.Name))
	b.WriteString("&LOCALE=")
	b.WriteString(url.QueryEscape(u.Voice.Locale))
	b.WriteString(u.ExtraParams)
	return b.String()
}

// FetchAudio requests the WAVE_FILE rendition of u.
func (c *MaryClient) FetchAudio(ctx context.Context, u Utterance) ([]byte, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	data, err := c.get(ctx, StepAudio, c.ProcessURL(u)+audioParams)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("utterance", u.ID).
		Str("voice", u.Voice.Name).
		Int("audioBytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("MaryTTS audio fetched")

	return data, nil
}

// FetchTiming requests the REALISED_DURATIONS rendition of u.
func (c *MaryClient) FetchTiming(ctx context.Context, u Utterance) ([]byte, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	data, err := c.get(ctx, StepTiming, c.ProcessURL(u)+timingParams)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("utterance", u.ID).
		Int("timingBytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("MaryTTS realised durations fetched")

	return data, nil
}

// ListVoices asks the server for its installed voices. Each line of the
// /voices response reads "<name> <locale> <gender> [<type>]".
func (c *MaryClient) ListVoices(ctx context.Context) ([]Voice, error) {
	data, err := c.get(ctx, StepVoices, c.baseURL+"/voices")
	if err != nil {
		return nil, err
	}

	var voices []Voice
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v := Voice{Name: fields[0], Locale: fields[1]}
		if len(fields) > 2 {
			v.Gender = fields[2]
		}
		if len(fields) > 3 {
			v.Type = fields[3]
		}
		voices = append(voices, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read voices: %w", err)
	}
	return voices, nil
}

// Health checks that the server answers /version.
func (c *MaryClient) Health(ctx context.Context) error {
	_, err := c.get(ctx, StepHealth, c.baseURL+"/version")
	return err
}

func (c *MaryClient) get(ctx context.Context, step Step, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{Step: step, URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Step: step, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransportError{
			Step:   step,
			URL:    rawURL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("MaryTTS error: %s", strings.TrimSpace(string(body))),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Step: step, URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(data) == 0 {
		return nil, &TransportError{Step: step, URL: rawURL, Status: resp.StatusCode, Err: ErrEmptyBody}
	}

	return data, nil
}
