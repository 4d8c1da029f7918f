package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/liangyou/appgate/pkg/models"
	"github.com/robfig/cron/v3"
)

const defaultFilePollInterval = 5 * time.Second

// FileSource 从本地 JSON 或 YAML 文件读取文档，适用于开发与离线环境。
type FileSource struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
}

// NewFileSource 创建文件文档源。轮询间隔不足一秒的按一秒处理。
func NewFileSource(cfg models.FileSourceConfig, logger *slog.Logger) (*FileSource, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("remote: file path is required")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultFilePollInterval
	}
	interval = clampPollInterval(interval)
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: cfg.Path, interval: interval, logger: logger}, nil
}

// Load 读取一次文件，文件不存在时返回不存在的文档。
func (s *FileSource) Load() (models.Document, error) {
	doc, _, err := s.load()
	return doc, err
}

func (s *FileSource) load() (models.Document, string, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Document{}, "absent", nil
		}
		return models.Document{}, "", fmt.Errorf("remote: open %s: %w", s.path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes))
	if err != nil {
		return models.Document{}, "", fmt.Errorf("remote: read %s: %w", s.path, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		doc, err := ParseYAMLDocument(data, s.logger)
		return doc, digest, err
	default:
		doc, err := ParseDocument(data, s.logger)
		return doc, digest, err
	}
}

// Subscribe 立即读取文件，之后按间隔检测内容变化。
func (s *FileSource) Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error) {
	if onSnapshot == nil {
		return nil, errors.New("remote: snapshot handler is required")
	}
	sub := &fileSubscription{
		source:     s,
		onSnapshot: onSnapshot,
		onError:    onError,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := sub.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), sub.poll); err != nil {
		return nil, fmt.Errorf("remote: schedule poll: %w", err)
	}
	sub.poll()
	sub.cron.Start()
	return sub, nil
}

type fileSubscription struct {
	source     *FileSource
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	cron       *cron.Cron
	guard      deliveryGuard

	mu         sync.Mutex
	lastDigest string
}

func (f *fileSubscription) poll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, digest, err := f.source.load()
	if err != nil {
		if f.onError != nil {
			f.guard.deliver(func() { f.onError(err) })
		}
		return
	}
	if digest == f.lastDigest {
		return
	}
	f.lastDigest = digest
	snap := newSnapshot(doc, "file:"+f.source.path)
	f.guard.deliver(func() { f.onSnapshot(snap) })
}

// Unsubscribe 停止轮询。
func (f *fileSubscription) Unsubscribe() error {
	if !f.guard.close() {
		return nil
	}
	<-f.cron.Stop().Done()
	return nil
}
