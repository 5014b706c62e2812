package receiptdb

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"ProofChain/internal/proofs"
)

// FileStore 在内存中索引回执，并在配置了数据目录时以 JSON lines 追加落盘。
type FileStore struct {
	mu       sync.RWMutex
	dataFile string
	byKey    map[string]proofs.Receipt
	ordered  []proofs.Receipt
}

// NewFileStore 创建文件存储。dataDir 为空时只保存在内存中。
func NewFileStore(dataDir string) (*FileStore, error) {
	store := &FileStore{byKey: make(map[string]proofs.Receipt)}
	if dataDir == "" {
		return store, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	store.dataFile = filepath.Join(dataDir, "receipts.log")
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Save 实现 Store。
func (s *FileStore) Save(_ context.Context, receipt proofs.Receipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := receipt.Key()
	if _, ok := s.byKey[key]; ok {
		return false, nil
	}
	if s.dataFile != "" {
		if err := s.appendLocked(receipt); err != nil {
			return false, err
		}
	}
	s.insertLocked(receipt)
	return true, nil
}

func (s *FileStore) appendLocked(receipt proofs.Receipt) error {
	file, err := os.OpenFile(s.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开回执日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("序列化回执失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入回执日志失败: %w", err)
	}
	return nil
}

func (s *FileStore) insertLocked(receipt proofs.Receipt) {
	s.byKey[receipt.Key()] = receipt
	idx := sort.Search(len(s.ordered), func(i int) bool {
		return s.ordered[i].ConfirmedAt.Before(receipt.ConfirmedAt)
	})
	s.ordered = append(s.ordered, proofs.Receipt{})
	copy(s.ordered[idx+1:], s.ordered[idx:])
	s.ordered[idx] = receipt
}

// Get 实现 Store。
func (s *FileStore) Get(_ context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receipt, ok := s.byKey[proofs.PairKey(fp, owner)]
	if !ok {
		return proofs.Receipt{}, ErrNotFound
	}
	return receipt, nil
}

// List 实现 Store。
func (s *FileStore) List(_ context.Context, query Query) ([]proofs.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := normalizeLimit(query.Limit)
	results := make([]proofs.Receipt, 0, limit)
	for _, receipt := range s.ordered {
		if query.Address != nil && receipt.Address != *query.Address {
			continue
		}
		results = append(results, receipt)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 实现 Store。
func (s *FileStore) Close() error { return nil }

func (s *FileStore) loadFromDisk() error {
	file, err := os.OpenFile(s.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取回执日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var receipt proofs.Receipt
		if err := json.Unmarshal(scanner.Bytes(), &receipt); err != nil {
			continue
		}
		if _, dup := s.byKey[receipt.Key()]; dup {
			continue
		}
		s.insertLocked(receipt)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析回执日志失败: %w", err)
	}
	return nil
}
