package whisper

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	asrDomain "brokle/internal/core/domain/asr"
)

// Config configures a whisper-backed ProviderCapability.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Provider implements asrDomain.ProviderCapability against OpenAI's
// Whisper transcription endpoint.
type Provider struct {
	client  *openai.Client
	logger  *logrus.Logger
	timeout time.Duration
}

// NewProvider constructs a whisper ProviderCapability.
func NewProvider(cfg Config, logger *logrus.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("whisper: API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Provider{
		client:  openai.NewClientWithConfig(clientConfig),
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Transcribe implements asrDomain.ProviderCapability.Transcribe. audioReference
// is opened as a local filesystem path. The worker passes the job's source_url
// or file_key through unchanged; nothing in this module downloads remote
// sources (S3 objects, video URLs) to local disk first.
func (p *Provider) Transcribe(ctx context.Context, audioReference string) ([]asrDomain.TranscriptSegment, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioReference,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		p.logger.WithError(err).WithField("audio_reference", audioReference).Warn("whisper transcription failed")
		return nil, 0, fmt.Errorf("whisper transcription: %w", err)
	}

	segments := make([]asrDomain.TranscriptSegment, 0, len(resp.Segments))
	var duration float64
	for _, seg := range resp.Segments {
		segments = append(segments, asrDomain.TranscriptSegment{
			StartTime: seg.Start,
			EndTime:   seg.End,
			Content:   seg.Text,
		})
		if seg.End > duration {
			duration = seg.End
		}
	}

	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, asrDomain.TranscriptSegment{Content: resp.Text})
	}

	return segments, duration, nil
}
