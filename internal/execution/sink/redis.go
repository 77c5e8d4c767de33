package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"coderunner/internal/common/cache"
	"coderunner/internal/common/storage"
	"coderunner/internal/execution/render"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix    = "coderunner:output:"
	defaultOutputTTL    = 24 * time.Hour
	defaultOffloadBytes = 64 * 1024
)

// RedisConfig controls the Redis output store.
type RedisConfig struct {
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
	// Bucket receives attachments larger than OffloadBytes when storage is set.
	Bucket       string `yaml:"bucket"`
	OffloadBytes int    `yaml:"offloadBytes"`
}

// RedisSink stores outputs as JSON in Redis and optionally moves large
// attachments to object storage.
type RedisSink struct {
	cache   cache.Cache
	storage storage.ObjectStorage
	cfg     RedisConfig
	now     func() time.Time
}

// NewRedisSink creates a sink. objStorage may be nil, in which case
// attachments stay inline.
func NewRedisSink(c cache.Cache, objStorage storage.ObjectStorage, cfg RedisConfig) *RedisSink {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultOutputTTL
	}
	if cfg.OffloadBytes <= 0 {
		cfg.OffloadBytes = defaultOffloadBytes
	}
	if cfg.Bucket == "" {
		objStorage = nil
	}
	return &RedisSink{cache: c, storage: objStorage, cfg: cfg, now: time.Now}
}

func (s *RedisSink) key(h Handle) string {
	return s.cfg.KeyPrefix + string(h)
}

func (s *RedisSink) Send(ctx context.Context, triggerID string, p render.Presentation) (Handle, error) {
	h := Handle(uuid.NewString())
	p, offloaded, err := s.offload(ctx, h, p)
	if err != nil {
		return "", err
	}
	data, err := s.encode(Output{Handle: h, TriggerID: triggerID, Presentation: p, UpdatedAt: s.now()})
	if err != nil {
		s.removeObjects(ctx, offloaded)
		return "", err
	}
	if err := s.cache.Set(ctx, s.key(h), data, s.cfg.TTL); err != nil {
		s.removeObjects(ctx, offloaded)
		return "", appErr.Wrapf(err, appErr.SinkError, "store output failed")
	}
	return h, nil
}

func (s *RedisSink) Edit(ctx context.Context, h Handle, p render.Presentation) error {
	prev, err := s.Load(ctx, h)
	if appErr.Is(err, appErr.OutputNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	stale := objectKeys(prev.Presentation)
	p, offloaded, err := s.offload(ctx, h, p)
	if err != nil {
		return err
	}
	prev.Presentation = p
	prev.UpdatedAt = s.now()
	data, err := s.encode(prev)
	if err != nil {
		s.removeObjects(ctx, offloaded)
		return err
	}
	ok, err := s.cache.SetXX(ctx, s.key(h), data, s.cfg.TTL)
	if err != nil {
		s.removeObjects(ctx, offloaded)
		return appErr.Wrapf(err, appErr.SinkError, "update output failed")
	}
	if !ok {
		// Deleted between the read and the write.
		s.removeObjects(ctx, offloaded)
		return nil
	}
	// Offloaded keys are never reused, so the previous ones are unreferenced now.
	s.removeObjects(ctx, stale)
	return nil
}

func (s *RedisSink) Delete(ctx context.Context, h Handle) error {
	prev, err := s.Load(ctx, h)
	if appErr.Is(err, appErr.OutputNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.cache.Del(ctx, s.key(h)); err != nil {
		return appErr.Wrapf(err, appErr.SinkError, "delete output failed")
	}
	s.removeObjects(ctx, objectKeys(prev.Presentation))
	return nil
}

// Load reads an output back.
func (s *RedisSink) Load(ctx context.Context, h Handle) (Output, error) {
	raw, err := s.cache.Get(ctx, s.key(h))
	if err != nil {
		return Output{}, appErr.Wrapf(err, appErr.CacheError, "load output failed")
	}
	if raw == "" {
		return Output{}, appErr.New(appErr.OutputNotFound)
	}
	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Output{}, appErr.Wrapf(err, appErr.SinkError, "decode output failed")
	}
	return out, nil
}

// OpenFile streams one attachment, from Redis or object storage.
func (s *RedisSink) OpenFile(ctx context.Context, h Handle, name string) (io.ReadCloser, error) {
	out, err := s.Load(ctx, h)
	if err != nil {
		return nil, err
	}
	f, err := findFile(out, name)
	if err != nil {
		return nil, err
	}
	if f.Key == "" {
		return inlineReader(f), nil
	}
	if s.storage == nil {
		return nil, appErr.Newf(appErr.AttachmentFailed, "attachment %s is offloaded but no storage is configured", name)
	}
	r, err := s.storage.GetObject(ctx, s.cfg.Bucket, f.Key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.AttachmentFailed, "open attachment failed")
	}
	return r, nil
}

func (s *RedisSink) encode(out Output) (string, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SinkError, "encode output failed")
	}
	return string(data), nil
}

// offload uploads large attachments and returns the presentation with their
// content replaced by object keys.
func (s *RedisSink) offload(ctx context.Context, h Handle, p render.Presentation) (render.Presentation, []string, error) {
	if s.storage == nil || len(p.Files) == 0 {
		return p, nil, nil
	}
	files := make([]render.File, len(p.Files))
	copy(files, p.Files)

	var uploaded []string
	for i, f := range files {
		if len(f.Content) <= s.cfg.OffloadBytes {
			continue
		}
		key := fmt.Sprintf("outputs/%s/%s-%s", h, uuid.NewString(), f.Name)
		if err := s.storage.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(f.Content), int64(len(f.Content)), "text/plain"); err != nil {
			s.removeObjects(ctx, uploaded)
			return p, nil, appErr.Wrapf(err, appErr.AttachmentFailed, "upload attachment failed")
		}
		uploaded = append(uploaded, key)
		files[i] = render.File{Name: f.Name, Key: key}
	}
	p.Files = files
	return p, uploaded, nil
}

func (s *RedisSink) removeObjects(ctx context.Context, keys []string) {
	if s.storage == nil || len(keys) == 0 {
		return
	}
	if err := s.storage.RemoveObjects(ctx, s.cfg.Bucket, keys); err != nil {
		logger.Warn(ctx, "remove offloaded attachments failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func objectKeys(p render.Presentation) []string {
	var keys []string
	for _, f := range p.Files {
		if f.Key != "" {
			keys = append(keys, f.Key)
		}
	}
	return keys
}
