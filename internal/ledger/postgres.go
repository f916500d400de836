package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore persists account ledgers to a PostgreSQL database.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// CreateTree implements Store.
func (s *PostgresStore) CreateTree(ctx context.Context, tree *Tree) error {
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trees (account_hash, account_id, merkle_root, leaf_count, proof_file_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tree.AccountHash, tree.AccountID, tree.MerkleRoot, tree.LeafCount, tree.ProofFileID, tree.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrTreeExists
	}
	if err != nil {
		return fmt.Errorf("insert tree: %w", err)
	}
	return nil
}

// GetTree implements Store.
func (s *PostgresStore) GetTree(ctx context.Context, accountHash string) (*Tree, error) {
	return scanTree(s.pool.QueryRow(ctx, selectTree, accountHash))
}

// Snapshot implements Store. Both reads run in one repeatable-read
// transaction so the tree row and message rows agree.
func (s *PostgresStore) Snapshot(ctx context.Context, accountHash string) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tree, err := scanTree(tx.QueryRow(ctx, selectTree, accountHash))
	if err != nil {
		return nil, err
	}
	messages, err := queryMessages(ctx, tx, accountHash)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return &Snapshot{Tree: tree, Messages: messages}, nil
}

// ListMessages implements Store.
func (s *PostgresStore) ListMessages(ctx context.Context, accountHash string) ([]*Message, error) {
	if _, err := s.GetTree(ctx, accountHash); err != nil {
		return nil, err
	}
	return queryMessages(ctx, s.pool, accountHash)
}

// Append implements Store.
// It locks the tree row, checks the expected root and leaf count, inserts the
// message and advances the root, all within a single transaction. The row
// lock serialises appends per account without blocking other accounts.
func (s *PostgresStore) Append(ctx context.Context, msg *Message, expectedRoot, newRoot string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var root string
	var count int
	err = tx.QueryRow(ctx,
		"SELECT merkle_root, leaf_count FROM trees WHERE account_hash = $1 FOR UPDATE",
		msg.ParentAccountHash,
	).Scan(&root, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTreeNotFound
	}
	if err != nil {
		return fmt.Errorf("lock tree: %w", err)
	}
	if root != expectedRoot || count != msg.MerkleIdx {
		return ErrRootInconsistent
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (hash, parent_account_hash, ornament_id, nickname, merkle_idx, merkle_proof, proof_file_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.Hash, msg.ParentAccountHash, msg.OrnamentID, msg.Nickname,
		msg.MerkleIdx, msg.MerkleProof, msg.ProofFileID, msg.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrRootInconsistent
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE trees SET merkle_root = $1, leaf_count = leaf_count + 1 WHERE account_hash = $2",
		newRoot, msg.ParentAccountHash,
	); err != nil {
		return fmt.Errorf("update tree root: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}

	s.logger.Debug("message appended",
		zap.String("account_hash", msg.ParentAccountHash),
		zap.Int("idx", msg.MerkleIdx),
		zap.String("root", newRoot),
	)
	return nil
}

const selectTree = `SELECT account_hash, account_id, merkle_root, leaf_count, proof_file_id, created_at
	FROM trees WHERE account_hash = $1`

func scanTree(row pgx.Row) (*Tree, error) {
	t := &Tree{}
	if err := row.Scan(&t.AccountHash, &t.AccountID, &t.MerkleRoot, &t.LeafCount, &t.ProofFileID, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreeNotFound
		}
		return nil, fmt.Errorf("scan tree: %w", err)
	}
	return t, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryMessages(ctx context.Context, q querier, accountHash string) ([]*Message, error) {
	rows, err := q.Query(ctx,
		`SELECT hash, parent_account_hash, ornament_id, nickname, merkle_idx, merkle_proof, proof_file_id, created_at
		 FROM messages WHERE parent_account_hash = $1 ORDER BY merkle_idx ASC`, accountHash,
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
