package receiptdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ProofChain/internal/proofs"
)

// ErrNotFound 表示回执不存在。
var ErrNotFound = errors.New("receipt not found")

// Query 描述回执列表的筛选条件。
type Query struct {
	Address *common.Address
	Limit   int
}

// Store 抽象回执的持久化接口。
type Store interface {
	// Save 写入回执，返回 false 表示该 (fingerprint, address) 已存在。
	Save(ctx context.Context, receipt proofs.Receipt) (bool, error)
	Get(ctx context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, error)
	// List 按确认时间倒序返回回执。
	List(ctx context.Context, query Query) ([]proofs.Receipt, error)
	Close() error
}

// Config 描述存储驱动参数。
type Config struct {
	Driver          string
	DSN             string
	DataDir         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Open 根据驱动名创建存储。
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewFileStore(cfg.DataDir)
	case "mysql":
		return OpenSQL(ctx, DialectMySQL, cfg)
	case "sqlite", "sqlite3":
		return OpenSQL(ctx, DialectSQLite, cfg)
	default:
		return nil, fmt.Errorf("不支持的回执存储驱动: %s", cfg.Driver)
	}
}
