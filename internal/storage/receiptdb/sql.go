package receiptdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"ProofChain/internal/proofs"
)

// Dialect 标识 SQL 方言。
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

const mysqlDuplicateEntry = 1062

// SQLStore 使用 MySQL 或 SQLite 存储回执。
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQL 建立连接池、执行迁移并返回存储。
func OpenSQL(ctx context.Context, dialect Dialect, cfg Config) (*SQLStore, error) {
	db, err := openDatabase(ctx, dialect, cfg)
	if err != nil {
		return nil, err
	}
	store := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := runMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, dialect Dialect, cfg Config) (*sql.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	var driverName string
	switch dialect {
	case DialectMySQL:
		if dsn == "" {
			return nil, fmt.Errorf("MySQL DSN 不能为空")
		}
		driverName = "mysql"
	case DialectSQLite:
		if dsn == "" {
			dir := cfg.DataDir
			if dir == "" {
				dir = "."
			}
			dsn = filepath.Join(dir, "receipts.db")
		}
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("不支持的 SQL 方言: %s", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite 只允许单个写连接。
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", dialect, err)
	}
	return db, nil
}

// Save 实现 Store。
func (s *SQLStore) Save(ctx context.Context, receipt proofs.Receipt) (bool, error) {
	const stmt = `INSERT INTO proof_receipts
        (fingerprint, address, chain_id, tx_hash, block_number, confirmed_at, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		receipt.Fingerprint.Hex(),
		receipt.Address.Hex(),
		int64(receipt.ChainID),
		receipt.TransactionID,
		int64(receipt.BlockNumber),
		receipt.ConfirmedAt.UTC().UnixNano(),
		s.now().UTC().UnixNano(),
	)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, fmt.Errorf("写入回执失败: %w", err)
	}
	return true, nil
}

// Get 实现 Store。
func (s *SQLStore) Get(ctx context.Context, fp proofs.Fingerprint, owner common.Address) (proofs.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT fingerprint, address, chain_id, tx_hash, block_number, confirmed_at
        FROM proof_receipts WHERE fingerprint = ? AND address = ?`, fp.Hex(), owner.Hex())
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return proofs.Receipt{}, ErrNotFound
	}
	return receipt, err
}

// List 实现 Store。
func (s *SQLStore) List(ctx context.Context, query Query) ([]proofs.Receipt, error) {
	limit := normalizeLimit(query.Limit)

	var (
		rows *sql.Rows
		err  error
	)
	if query.Address != nil {
		rows, err = s.db.QueryContext(ctx, `SELECT fingerprint, address, chain_id, tx_hash, block_number, confirmed_at
            FROM proof_receipts WHERE address = ? ORDER BY confirmed_at DESC LIMIT ?`, query.Address.Hex(), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT fingerprint, address, chain_id, tx_hash, block_number, confirmed_at
            FROM proof_receipts ORDER BY confirmed_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("查询回执失败: %w", err)
	}
	defer rows.Close()

	receipts := make([]proofs.Receipt, 0, limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历回执失败: %w", err)
	}
	return receipts, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (proofs.Receipt, error) {
	var (
		fingerprint string
		address     string
		chainID     int64
		txHash      string
		blockNumber int64
		confirmedAt int64
	)
	if err := row.Scan(&fingerprint, &address, &chainID, &txHash, &blockNumber, &confirmedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return proofs.Receipt{}, err
		}
		return proofs.Receipt{}, fmt.Errorf("解析回执失败: %w", err)
	}
	fp, err := proofs.ParseFingerprint(fingerprint)
	if err != nil {
		return proofs.Receipt{}, fmt.Errorf("回执指纹损坏: %w", err)
	}
	return proofs.Receipt{
		TransactionID: txHash,
		Fingerprint:   fp,
		Address:       common.HexToAddress(address),
		ChainID:       uint64(chainID),
		BlockNumber:   uint64(blockNumber),
		ConfirmedAt:   time.Unix(0, confirmedAt).UTC(),
	}, nil
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
