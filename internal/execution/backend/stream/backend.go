package stream

import (
	"context"
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

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultName          = "ato"
	defaultBaseURL       = "https://ato.pxeger.com"
	defaultServerTimeout = 60 * time.Second
	defaultTimeout       = 65 * time.Second
	defaultMaxCatalog    = 8 << 20

	executePath  = "/api/v0/ws/execute"
	metadataPath = "/api/v0/metadata"

	// Signal number the provider reports for memory-limit kills.
	sigkill = 9
)

// Provider names that are published under a different id.
var renames = map[string]string{
	"python":                  "python3",
	"cplusplus_gcc":           "cpp-gcc",
	"objective_cplusplus_gcc": "objective-c-gcc",
	"clang":                   "c-clang",
}

// Config controls the streaming backend.
type Config struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"baseURL"`
	// ServerTimeout is the bound sent to the provider with each request.
	ServerTimeout time.Duration `yaml:"serverTimeout"`
	// Timeout is the local ceiling for one attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// Backend runs attempts over one websocket per attempt.
type Backend struct {
	cfg    Config
	client *http.Client
	dialer *websocket.Dialer

	mu     sync.RWMutex
	native map[string]string
}

func New(cfg Config, client *http.Client) *Backend {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = defaultServerTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Backend{
		cfg:    cfg,
		client: client,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		native: make(map[string]string),
	}
}

func (b *Backend) Name() string {
	return b.cfg.Name
}

// Execute opens a channel, sends the request and collects frames until Done.
func (b *Backend) Execute(ctx context.Context, attempt backend.Attempt) backend.Result {
	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	res, err := b.execute(runCtx, attempt)
	if err == nil {
		return res
	}
	if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		logger.Warn(ctx, "stream attempt hit ceiling", zap.String("backend", b.cfg.Name), zap.Duration("timeout", b.cfg.Timeout))
		return backend.Result{
			Status: backend.StatusTimeout,
			Info:   fmt.Sprintf("Request timed out after %s.", b.cfg.Timeout),
		}
	}
	if ctx.Err() != nil {
		return backend.Classify(ctx.Err())
	}
	logger.Warn(ctx, "stream attempt failed", zap.String("backend", b.cfg.Name), zap.Error(err))
	return backend.Classify(err)
}

func (b *Backend) execute(ctx context.Context, attempt backend.Attempt) (backend.Result, error) {
	conn, _, err := b.dialer.DialContext(ctx, b.socketURL(), nil)
	if err != nil {
		return backend.Result{}, appErr.Transport(err, "connecting to %s failed", b.cfg.Name)
	}
	defer conn.Close()

	// Unblock reads as soon as the attempt is canceled or the ceiling passes.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	req := Request{
		Language:  b.nativeName(attempt.Language),
		Code:      attempt.Code,
		Input:     []byte(attempt.Stdin),
		Options:   attempt.Options,
		Arguments: attempt.Args,
		Timeout:   int(b.cfg.ServerTimeout / time.Second),
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, req.AppendMsg(nil)); err != nil {
		if ctx.Err() != nil {
			return backend.Result{}, ctx.Err()
		}
		return backend.Result{}, appErr.Transport(err, "sending request to %s failed", b.cfg.Name)
	}

	var stdout, stderr []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return backend.Result{}, ctx.Err()
			}
			return closedResult(err), nil
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			return backend.Result{}, err
		}
		switch frame.Kind {
		case FrameStdout:
			stdout = append(stdout, frame.Chunk...)
		case FrameStderr:
			stderr = append(stderr, frame.Chunk...)
		case FrameDone:
			return b.classify(frame.Done, stdout, stderr), nil
		}
	}
}

func (b *Backend) classify(done Done, stdout, stderr []byte) backend.Result {
	res := backend.Result{Stdout: stdout, Stderr: stderr, Status: backend.StatusFailed}
	switch {
	case done.TimedOut:
		return backend.Result{
			Status: backend.StatusTimeout,
			Info:   fmt.Sprintf("Process timed out after %ds.", int(b.cfg.ServerTimeout/time.Second)),
		}
	case done.StatusType == "killed" && done.StatusValue == sigkill:
		res.Status = backend.StatusOutOfMemory
	case done.StatusType == "exited" && done.StatusValue == 0:
		res.Status = backend.StatusSuccess
	}
	return res
}

// closedResult handles a channel that ended without a Done frame.
func closedResult(err error) backend.Result {
	code := appErr.ConnectionClosed
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseMessageTooBig:
			code = appErr.RequestTooLarge
		case websocket.CloseInternalServerErr:
			code = appErr.ProviderError
		}
	}
	return backend.Result{Status: backend.StatusFailed, Info: code.Message()}
}

func (b *Backend) socketURL() string {
	u := b.cfg.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + executePath
}

func (b *Backend) nativeName(id string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if name, ok := b.native[id]; ok {
		return name
	}
	return id
}

// Languages fetches the provider metadata and records each language's native name.
func (b *Backend) Languages(ctx context.Context) ([]backend.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+metadataPath, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "build metadata request failed")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, appErr.Transport(err, "fetching %s metadata failed", b.cfg.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, appErr.Newf(appErr.UnexpectedStatus, "%s metadata returned HTTP %d", b.cfg.Name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxCatalog))
	if err != nil {
		return nil, appErr.Transport(err, "reading %s metadata failed", b.cfg.Name)
	}
	catalog, err := DecodeCatalog(body)
	if err != nil {
		return nil, err
	}

	native := make(map[string]string, len(catalog))
	offers := make([]backend.Offer, 0, len(catalog))
	for key, entry := range catalog {
		id := PublicID(key)
		native[id] = key
		ext := entry.SEClass
		if ext == "" {
			ext = backend.GuessExtension(id)
		}
		name := entry.Name
		if name == "" {
			name = id
		}
		offers = append(offers, backend.Offer{ID: id, Name: name, Extension: ext})
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })

	b.mu.Lock()
	b.native = native
	b.mu.Unlock()
	return offers, nil
}

// PublicID maps a provider language name to the id users type.
func PublicID(key string) string {
	if renamed, ok := renames[key]; ok {
		key = renamed
	}
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}
