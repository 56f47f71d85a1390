// Package ocr is the PaddleOCR-VL layout-parsing client.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/ocrbase/infrastructure/circuitbreaker"
	infraerrors "github.com/jonesrussell/ocrbase/infrastructure/errors"
	infrahttp "github.com/jonesrussell/ocrbase/infrastructure/http"
	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
	"github.com/jonesrussell/ocrbase/infrastructure/retry"
)

const (
	DefaultURL     = "http://localhost:8080"
	DefaultTimeout = 120 * time.Second
	DefaultAPIKey  = "local"

	pageSeparator = "\n\n---\n\n"
	fileTypePDF   = 0
	fileTypeImage = 1
)

type Config struct {
	URL               string        `env:"PADDLE_OCR_URL"        yaml:"url"`
	APIKey            string        `env:"PADDLEOCR_VL_API_KEY"  json:"-"                  yaml:"api_key"`
	TimeoutMs         int           `env:"PADDLE_OCR_TIMEOUT_MS" yaml:"timeout_ms"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `env:"OCR_REQUESTS_PER_SEC"  yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	c.URL = strings.TrimRight(c.URL, "/")
	if c.APIKey == "" {
		c.APIKey = DefaultAPIKey
	}
	if c.TimeoutMs > 0 {
		c.Timeout = time.Duration(c.TimeoutMs) * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Result is the recognized document.
type Result struct {
	Markdown  string
	PageCount int
}

// Client calls the OCR service. Calls are throttled, and a run of transient
// failures opens the breaker so workers back off instead of piling on.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	log     infralogger.Logger
}

func NewClient(cfg Config, log infralogger.Logger) *Client {
	cfg.setDefaults()

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c := &Client{
		cfg:     cfg,
		http:    infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.Timeout}),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log,
	}
	c.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Timeout:          cfg.OpenTimeout,
		IsFailure:        retry.IsTransient,
		OnStateChange: func(from, to circuitbreaker.State) {
			log.Warn("OCR circuit breaker changed state",
				infralogger.String("from", from.String()), infralogger.String("to", to.String()))
		},
	})
	return c
}

type inferRequest struct {
	File               string `json:"file"`
	FileType           int    `json:"fileType"`
	PrettifyMarkdown   bool   `json:"prettifyMarkdown"`
	UseLayoutDetection bool   `json:"useLayoutDetection"`
}

type inferResponse struct {
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	Result    struct {
		LayoutParsingResults []struct {
			Markdown struct {
				Text string `json:"text"`
			} `json:"markdown"`
		} `json:"layoutParsingResults"`
		DataInfo *struct {
			NumPages *int `json:"numPages"`
		} `json:"dataInfo"`
	} `json:"result"`
}

// Parse sends data to the layout-parsing endpoint. 4xx responses are
// permanent errors; everything else may be retried.
func (c *Client) Parse(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ocr throttle: %w", err)
	}

	var result *Result
	err := c.breaker.Execute(func() error {
		var callErr error
		result, callErr = c.infer(ctx, data, mimeType)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil, fmt.Errorf("ocr unavailable: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) infer(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	fileType := fileTypeImage
	if mimeType == "application/pdf" {
		fileType = fileTypePDF
	}
	body, err := json.Marshal(inferRequest{
		File:               base64.StdEncoding.EncodeToString(data),
		FileType:           fileType,
		PrettifyMarkdown:   true,
		UseLayoutDetection: true,
	})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode ocr request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/layout-parsing", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build ocr request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err = infraerrors.ParseHTTPError(resp); err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}

	var out inferResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	if out.ErrorCode != 0 {
		return nil, fmt.Errorf("ocr error %d: %s", out.ErrorCode, out.ErrorMsg)
	}

	pages := make([]string, 0, len(out.Result.LayoutParsingResults))
	for _, r := range out.Result.LayoutParsingResults {
		pages = append(pages, r.Markdown.Text)
	}
	result := &Result{Markdown: strings.Join(pages, pageSeparator)}
	switch {
	case out.Result.DataInfo != nil && out.Result.DataInfo.NumPages != nil:
		result.PageCount = *out.Result.DataInfo.NumPages
	case fileType == fileTypePDF:
		result.PageCount = CountPDFPages(data)
	default:
		result.PageCount = 1
	}

	c.log.Debug("OCR finished",
		infralogger.Int("pages", result.PageCount),
		infralogger.Int("bytes", len(data)),
		infralogger.Duration("duration", time.Since(start)))
	return result, nil
}

// Health reports whether the OCR service answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ocr health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err = infraerrors.ParseHTTPError(resp); err != nil {
		return fmt.Errorf("ocr health: %w", err)
	}
	var out struct {
		ErrorCode int `json:"errorCode"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode ocr health: %w", err)
	}
	if out.ErrorCode != 0 {
		return fmt.Errorf("ocr health: error code %d", out.ErrorCode)
	}
	return nil
}
