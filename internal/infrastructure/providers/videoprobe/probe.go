package videoprobe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	asrDomain "brokle/internal/core/domain/asr"
)

// perCallTimeout and totalTimeout bound a single Probe call (§6: "15s
// per-call / 20s total budget").
const (
	perCallTimeout = 15 * time.Second
	totalTimeout   = 20 * time.Second
)

// httpProbe implements asrDomain.VideoProbe with an HTTP HEAD request,
// falling back to a ranged GET when the host does not support HEAD.
type httpProbe struct {
	client *http.Client
}

// NewHTTPProbe constructs a VideoProbe backed by net/http.
func NewHTTPProbe() asrDomain.VideoProbe {
	return &httpProbe{
		client: &http.Client{Timeout: perCallTimeout},
	}
}

// Probe implements asrDomain.VideoProbe.Probe.
func (p *httpProbe) Probe(ctx context.Context, sourceURL string) error {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	if err := p.head(ctx, sourceURL); err == nil {
		return nil
	}

	// Some video hosts reject HEAD; retry once with a byte-ranged GET that
	// never reads the body.
	return p.rangedGet(ctx, sourceURL)
}

func (p *httpProbe) head(ctx context.Context, sourceURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build head request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("head request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("head request returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *httpProbe) rangedGet(ctx context.Context, sourceURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build get request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("get request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("get request returned status %d", resp.StatusCode)
	}
	return nil
}
