package markov

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// SetupSchema initializes the necessary tables in the provided database. This
// function should be called once on a new database before any other operations
// are performed. It is idempotent and safe to call on an already-initialized
// database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS markov_models (
    model_id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_name TEXT NOT NULL UNIQUE,
    token_kind TEXT NOT NULL,
    vocab_size INTEGER NOT NULL
);
`
		schemaVocab = `
CREATE TABLE IF NOT EXISTS markov_vocabulary (
    model_id INTEGER NOT NULL,
    token_index INTEGER NOT NULL,
    token_text TEXT NOT NULL,
    is_seed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (model_id, token_index)
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS markov_transitions (
    model_id INTEGER NOT NULL,
    from_index INTEGER NOT NULL,
    to_index INTEGER NOT NULL,
    weight REAL NOT NULL,
    PRIMARY KEY (model_id, from_index, to_index)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaModels); err != nil {
		return fmt.Errorf("could not create models schema: %w", err)
	}

	if _, err = tx.Exec(schemaVocab); err != nil {
		return fmt.Errorf("could not create vocabulary schema: %w", err)
	}

	if _, err = tx.Exec(schemaTransitions); err != nil {
		return fmt.Errorf("could not create transitions schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// Store persists chains in a SQLite database. It holds the database connection
// and prepared SQL statements for efficient database interaction.
type Store struct {
	db                     *sql.DB
	stmtGetModelInfo       *sql.Stmt
	stmtGetModels          *sql.Stmt
	stmtGetVocab           *sql.Stmt
	stmtGetTransitions     *sql.Stmt
	stmtModelTransitions   *sql.Stmt
	stmtModelSeeds         *sql.Stmt
	stmtGetVocabLen        *sql.Stmt
	stmtGetTransitionCount *sql.Stmt
	logger                 *slog.Logger
}

// NewStore creates and returns a new Store. It pre-compiles all necessary SQL
// statements, returning an error if any preparation fails.
func NewStore(db *sql.DB) (*Store, error) {
	stmtGetModelInfo, err := db.Prepare(`SELECT model_id, token_kind, vocab_size FROM markov_models WHERE model_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtGetModels, err := db.Prepare(`SELECT model_id, model_name, token_kind, vocab_size FROM markov_models;`)
	if err != nil {
		return nil, err
	}

	stmtGetVocab, err := db.Prepare(`SELECT token_index, token_text, is_seed FROM markov_vocabulary WHERE model_id = ? ORDER BY token_index;`)
	if err != nil {
		return nil, err
	}

	stmtGetTransitions, err := db.Prepare(`SELECT from_index, to_index, weight FROM markov_transitions WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtModelTransitions, err := db.Prepare(`SELECT COUNT(*) FROM markov_transitions WHERE model_id = ?;`)
	if err != nil {
		return nil, err
	}

	stmtModelSeeds, err := db.Prepare(`SELECT COUNT(*) FROM markov_vocabulary WHERE model_id = ? AND is_seed = 1;`)
	if err != nil {
		return nil, err
	}

	stmtGetVocabLen, err := db.Prepare(`SELECT COUNT(*) FROM markov_vocabulary;`)
	if err != nil {
		return nil, err
	}

	stmtGetTransitionCount, err := db.Prepare(`SELECT COUNT(*) FROM markov_transitions;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:                     db,
		stmtGetModelInfo:       stmtGetModelInfo,
		stmtGetModels:          stmtGetModels,
		stmtGetVocab:           stmtGetVocab,
		stmtGetTransitions:     stmtGetTransitions,
		stmtModelTransitions:   stmtModelTransitions,
		stmtModelSeeds:         stmtModelSeeds,
		stmtGetVocabLen:        stmtGetVocabLen,
		stmtGetTransitionCount: stmtGetTransitionCount,
		logger:                 slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the Store. It should be
// called when the Store is no longer needed to free up database resources.
func (s *Store) Close() {
	_ = s.stmtGetModelInfo.Close()
	_ = s.stmtGetModels.Close()
	_ = s.stmtGetVocab.Close()
	_ = s.stmtGetTransitions.Close()
	_ = s.stmtModelTransitions.Close()
	_ = s.stmtModelSeeds.Close()
	_ = s.stmtGetVocabLen.Close()
	_ = s.stmtGetTransitionCount.Close()
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}
