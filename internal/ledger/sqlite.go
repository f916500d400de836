package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore persists account ledgers to a SQLite database.
// It implements the Store interface.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens and configures a SQLite connection for use by SQLiteStore.
// Write transactions take the database lock up front (BEGIN IMMEDIATE) so two
// appends can never both read the same root before either commits.
// path can be a file path or ":memory:".
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// NewSQLiteStore wraps an open database. The schema must already be migrated.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// CreateTree implements Store.
func (s *SQLiteStore) CreateTree(ctx context.Context, tree *Tree) error {
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trees (account_hash, account_id, merkle_root, leaf_count, proof_file_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tree.AccountHash, tree.AccountID, tree.MerkleRoot, tree.LeafCount, tree.ProofFileID, tree.CreatedAt,
	)
	if isSQLiteConstraint(err) {
		return ErrTreeExists
	}
	if err != nil {
		return fmt.Errorf("insert tree: %w", err)
	}
	return nil
}

// GetTree implements Store.
func (s *SQLiteStore) GetTree(ctx context.Context, accountHash string) (*Tree, error) {
	return scanSQLiteTree(s.db.QueryRowContext(ctx, selectTreeSQLite, accountHash))
}

// Snapshot implements Store.
func (s *SQLiteStore) Snapshot(ctx context.Context, accountHash string) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tree, err := scanSQLiteTree(tx.QueryRowContext(ctx, selectTreeSQLite, accountHash))
	if err != nil {
		return nil, err
	}
	messages, err := querySQLiteMessages(ctx, tx, accountHash)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return &Snapshot{Tree: tree, Messages: messages}, nil
}

// ListMessages implements Store.
func (s *SQLiteStore) ListMessages(ctx context.Context, accountHash string) ([]*Message, error) {
	snap, err := s.Snapshot(ctx, accountHash)
	if err != nil {
		return nil, err
	}
	return snap.Messages, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, msg *Message, expectedRoot, newRoot string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var root string
	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT merkle_root, leaf_count FROM trees WHERE account_hash = ?", msg.ParentAccountHash,
	).Scan(&root, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTreeNotFound
	}
	if err != nil {
		return fmt.Errorf("read tree: %w", err)
	}
	if root != expectedRoot || count != msg.MerkleIdx {
		return ErrRootInconsistent
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (hash, parent_account_hash, ornament_id, nickname, merkle_idx, merkle_proof, proof_file_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Hash, msg.ParentAccountHash, msg.OrnamentID, msg.Nickname,
		msg.MerkleIdx, msg.MerkleProof, msg.ProofFileID, msg.CreatedAt,
	); err != nil {
		if isSQLiteConstraint(err) {
			return ErrRootInconsistent
		}
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE trees SET merkle_root = ?, leaf_count = leaf_count + 1 WHERE account_hash = ?",
		newRoot, msg.ParentAccountHash,
	); err != nil {
		return fmt.Errorf("update tree root: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}

	s.logger.Debug("message appended",
		zap.String("account_hash", msg.ParentAccountHash),
		zap.Int("idx", msg.MerkleIdx),
	)
	return nil
}

const selectTreeSQLite = `SELECT account_hash, account_id, merkle_root, leaf_count, proof_file_id, created_at
	FROM trees WHERE account_hash = ?`

func scanSQLiteTree(row *sql.Row) (*Tree, error) {
	t := &Tree{}
	if err := row.Scan(&t.AccountHash, &t.AccountID, &t.MerkleRoot, &t.LeafCount, &t.ProofFileID, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTreeNotFound
		}
		return nil, fmt.Errorf("scan tree: %w", err)
	}
	return t, nil
}

func querySQLiteMessages(ctx context.Context, tx *sql.Tx, accountHash string) ([]*Message, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT hash, parent_account_hash, ornament_id, nickname, merkle_idx, merkle_proof, proof_file_id, created_at
		 FROM messages WHERE parent_account_hash = ? ORDER BY merkle_idx ASC`, accountHash,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(
			&m.Hash, &m.ParentAccountHash, &m.OrnamentID, &m.Nickname,
			&m.MerkleIdx, &m.MerkleProof, &m.ProofFileID, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
