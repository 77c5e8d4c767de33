package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"coderunner/internal/execution/backend"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultName        = "tio"
	defaultBaseURL     = "https://tio.run"
	defaultTimeout     = 65 * time.Second
	defaultMaxResponse = 8 << 20

	runPath       = "/cgi-bin/run/api/"
	languagesPath = "/languages.json"

	codeFile  = ".code.tio"
	inputFile = ".input.tio"
)

// Config controls the batch backend.
type Config struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64 `yaml:"maxResponseBytes"`
}

// Backend talks to the remote batch provider.
type Backend struct {
	cfg    Config
	client *http.Client

	mu     sync.RWMutex
	cflags map[string]bool
}

// New creates a batch backend. A nil client uses a fresh http.Client; the
// backend applies its own deadline per request either way.
func New(cfg Config, client *http.Client) *Backend {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponse
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{
		cfg:    cfg,
		client: client,
		cflags: make(map[string]bool),
	}
}

func (b *Backend) Name() string {
	return b.cfg.Name
}

// Execute runs one attempt on the provider.
func (b *Backend) Execute(ctx context.Context, attempt backend.Attempt) backend.Result {
	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	res, err := b.execute(runCtx, attempt)
	if err == nil {
		return res
	}
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn(ctx, "batch request hit ceiling", zap.String("backend", b.cfg.Name), zap.Duration("timeout", b.cfg.Timeout))
		return backend.Result{
			Status: backend.StatusTimeout,
			Info:   fmt.Sprintf("Request timed out after %s.", b.cfg.Timeout),
		}
	}
	logger.Warn(ctx, "batch request failed", zap.String("backend", b.cfg.Name), zap.Error(err))
	return backend.Classify(err)
}

func (b *Backend) execute(ctx context.Context, attempt backend.Attempt) (backend.Result, error) {
	var req Request
	req.AddVariable("lang", attempt.Language)
	req.AddVariable(b.optionsVariable(attempt.Language), attempt.Options...)
	req.AddVariable("args", attempt.Args...)
	req.AddFile(codeFile, attempt.Code)
	req.AddFile(inputFile, []byte(attempt.Stdin))

	payload, err := req.Compress()
	if err != nil {
		return backend.Result{}, appErr.Wrapf(err, appErr.InternalServerError, "compress request failed")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+runPath, bytes.NewReader(payload))
	if err != nil {
		return backend.Result{}, appErr.Wrapf(err, appErr.InternalServerError, "build request failed")
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return backend.Result{}, appErr.Transport(err, "request to %s failed", b.cfg.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return backend.Result{}, appErr.Newf(appErr.UnexpectedStatus, "%s returned HTTP %d", b.cfg.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, b.cfg.MaxResponseBytes))
	if err != nil {
		return backend.Result{}, appErr.Transport(err, "reading response from %s failed", b.cfg.Name)
	}

	parsed, err := ParseResponse(body)
	if err != nil {
		return backend.Result{}, err
	}
	return parsed.Result(), nil
}

func (b *Backend) optionsVariable(lang string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cflags[lang] {
		return "TIO_CFLAGS"
	}
	return "TIO_OPTIONS"
}

type catalogEntry struct {
	Name     string   `json:"name"`
	Prettify string   `json:"prettify"`
	Unmask   []string `json:"unmask"`
}

// Languages fetches the provider catalog and records which languages take
// their options as compiler flags.
func (b *Backend) Languages(ctx context.Context) ([]backend.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+languagesPath, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "build catalog request failed")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, appErr.Transport(err, "fetching %s catalog failed", b.cfg.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, appErr.Newf(appErr.UnexpectedStatus, "%s catalog returned HTTP %d", b.cfg.Name, resp.StatusCode)
	}

	var catalog map[string]catalogEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, b.cfg.MaxResponseBytes)).Decode(&catalog); err != nil {
		return nil, appErr.Wrapf(err, appErr.MalformedResponse, "decode %s catalog failed", b.cfg.Name)
	}

	cflags := make(map[string]bool, len(catalog))
	offers := make([]backend.Offer, 0, len(catalog))
	for id, entry := range catalog {
		for _, field := range entry.Unmask {
			if field == "cflags" {
				cflags[id] = true
			}
		}
		ext := backend.GuessExtension(id)
		if ext == "" {
			ext = entry.Prettify
		}
		if ext == "" {
			ext = id
		}
		offers = append(offers, backend.Offer{ID: id, Name: entry.Name, Extension: ext})
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })

	b.mu.Lock()
	b.cflags = cflags
	b.mu.Unlock()
	return offers, nil
}
