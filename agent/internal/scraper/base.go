package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/obsidianstack/sentinel/agent/internal/config"
	"github.com/obsidianstack/sentinel/pkg/types"
)

// maxBodyBytes caps how much of a telemetry response is read.
const maxBodyBytes = 8 << 20

// Scraper fetches one service's current telemetry snapshot.
type Scraper interface {
	Scrape(ctx context.Context) (*types.TelemetrySnapshot, error)
}

// New returns the Scraper for svc's format. timeout bounds each fetch on top
// of any deadline carried by the context.
func New(svc config.Service, timeout time.Duration) (Scraper, error) {
	client, err := buildHTTPClient(svc, timeout)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: %w", svc.Name, err)
	}
	switch svc.Format {
	case config.FormatJSON, "":
		return &jsonScraper{svc: svc, client: client}, nil
	case config.FormatPrometheus:
		return &promScraper{svc: svc, client: client}, nil
	default:
		return nil, fmt.Errorf("scraper %q: unsupported format %q", svc.Name, svc.Format)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the service's auth and TLS settings.
func buildHTTPClient(svc config.Service, timeout time.Duration) (*http.Client, error) {
	tlsCfg, err := buildTLSConfig(svc)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	return &http.Client{
		Transport: &authRoundTripper{base: transport, auth: svc.Auth},
		Timeout:   timeout,
	}, nil
}

// buildTLSConfig loads the optional CA bundle and, in mtls mode, the client
// certificate pair.
func buildTLSConfig(svc config.Service) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: svc.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if svc.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(svc.Auth.CertFile, svc.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if svc.Auth.CAFile != "" {
		caPEM, err := os.ReadFile(svc.Auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", svc.Auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// fetch performs a GET against url and hands the body to decode. Any non-2xx
// status is an error.
func fetch(ctx context.Context, client *http.Client, url, accept string, decode func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return decode(io.LimitReader(resp.Body, maxBodyBytes))
}
