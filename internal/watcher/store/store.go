package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"swap-notify/internal/watcher/model"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// StoreError 落盘失败，对单条事件可重试
type StoreError struct {
	Op   string
	Pool string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s pool=%s: %v", e.Op, e.Pool, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FileStore 每个池子一个追加式 JSONL 文件，一行一条记录。文件只追加、
// 不改写。按 tx_hash 去重，索引在打开时扫描日志重建，重启后依然有效。
type FileStore struct {
	dir string
	tl  *zap.Logger

	mu    sync.Mutex
	pools map[string]*poolLog
}

// poolLog 单个池子的日志，写入由 mu 串行化（单写者），读回扫用独立句柄
type poolLog struct {
	mu   sync.Mutex
	file *os.File
	seen map[string]struct{}
}

func NewFileStore(dir string, tl *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StoreError{Op: "mkdir", Err: err}
	}
	return &FileStore{
		dir:   dir,
		tl:    tl,
		pools: make(map[string]*poolLog),
	}, nil
}

func (s *FileStore) path(poolID string) string {
	return filepath.Join(s.dir, strings.ToLower(poolID)+".jsonl")
}

// 懒加载池子日志：打开追加句柄并扫描已有记录重建 tx_hash 索引
func (s *FileStore) poolLog(poolID string) (*poolLog, error) {
	key := strings.ToLower(poolID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if pl, ok := s.pools[key]; ok {
		return pl, nil
	}

	seen := make(map[string]struct{})
	if err := s.scan(poolID, func(rec *model.SwapEvent) {
		seen[strings.ToLower(rec.TxHash)] = struct{}{}
	}); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.path(poolID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, &StoreError{Op: "open", Pool: poolID, Err: err}
	}

	pl := &poolLog{file: f, seen: seen}
	s.pools[key] = pl
	s.tl.Info("✅ pool log opened",
		zap.String("pool", poolID),
		zap.Int("records", len(seen)))
	return pl, nil
}

// Append 追加一条记录。重复的 tx_hash 不报错，返回 false 表示已有记录，
// 调用方据此跳过通知。一条记录一次 write + fsync，崩溃时最多留下一个
// 残行，读回时会被跳过。
func (s *FileStore) Append(poolID string, rec *model.SwapEvent) (bool, error) {
	pl, err := s.poolLog(poolID)
	if err != nil {
		return false, err
	}

	key := strings.ToLower(rec.TxHash)

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if _, dup := pl.seen[key]; dup {
		return false, nil
	}

	data, err := sonic.Marshal(rec)
	if err != nil {
		return false, &StoreError{Op: "marshal", Pool: poolID, Err: err}
	}
	data = append(data, '\n')

	if _, err := pl.file.Write(data); err != nil {
		return false, &StoreError{Op: "write", Pool: poolID, Err: err}
	}
	if err := pl.file.Sync(); err != nil {
		return false, &StoreError{Op: "sync", Pool: poolID, Err: err}
	}

	pl.seen[key] = struct{}{}
	return true, nil
}

// ReadAll 读回一个池子的全部记录，用于恢复和回补，不在热路径上。
// 用独立的只读句柄，不影响并发写入。
func (s *FileStore) ReadAll(poolID string) ([]model.SwapEvent, error) {
	var out []model.SwapEvent
	if err := s.scan(poolID, func(rec *model.SwapEvent) {
		out = append(out, *rec)
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) scan(poolID string, fn func(*model.SwapEvent)) error {
	f, err := os.Open(s.path(poolID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &StoreError{Op: "open", Pool: poolID, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.SwapEvent
		if err := sonic.Unmarshal(line, &rec); err != nil {
			// 崩溃残行，跳过
			s.tl.Warn("❌ skip corrupt record line", zap.String("pool", poolID), zap.Error(err))
			continue
		}
		fn(&rec)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return &StoreError{Op: "scan", Pool: poolID, Err: err}
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pl := range s.pools {
		pl.mu.Lock()
		_ = pl.file.Close()
		pl.mu.Unlock()
	}
	s.pools = make(map[string]*poolLog)
	return nil
}
