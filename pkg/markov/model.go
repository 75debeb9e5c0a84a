package markov

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrKindMismatch is returned when a stored model is loaded with a codec for a
// different token kind.
var ErrKindMismatch = errors.New("markov: token kind mismatch")

// ModelInfo holds the essential metadata for a stored chain: its unique ID, name,
// token kind (KindWords or KindBytes) and vocabulary size.
type ModelInfo struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int    `json:"size"`
}

// ExportedModel is the serializable representation of a stored chain,
// used for JSON-based import and export.
type ExportedModel struct {
	Name        string               `json:"name"`
	Kind        string               `json:"kind"`
	Tokens      []string             `json:"tokens"` // encoded tokens in index order
	Seeds       []int                `json:"seeds"`
	Transitions []ExportedTransition `json:"transitions"` // non-zero cells only
}

// ExportedTransition is the serializable representation of a single non-zero
// cell of a transition matrix, used within an ExportedModel.
type ExportedTransition struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Weight float64 `json:"weight"`
}

// GetModelInfos retrieves metadata for all models currently in the database,
// returning them in a map keyed by model name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Kind, &model.Size); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model specified by name.
// It returns sql.ErrNoRows if no such model exists.
func (s *Store) GetModelInfo(ctx context.Context, modelName string) (ModelInfo, error) {
	model := ModelInfo{Name: modelName}
	err := s.stmtGetModelInfo.QueryRowContext(ctx, modelName).Scan(&model.Id, &model.Kind, &model.Size)
	if err != nil {
		return ModelInfo{}, err
	}
	return model, nil
}

// RemoveModel deletes a model and all of its vocabulary and transitions from the
// database. The operation is performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err = deleteModel(ctx, tx, model.Id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}

func deleteModel(ctx context.Context, tx *sql.Tx, modelID int) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM markov_transitions WHERE model_id = ?", modelID); err != nil {
		return fmt.Errorf("failed to remove transitions for model %d: %w", modelID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM markov_vocabulary WHERE model_id = ?", modelID); err != nil {
		return fmt.Errorf("failed to remove vocabulary for model %d: %w", modelID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM markov_models WHERE model_id = ?", modelID); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", modelID, err)
	}
	return nil
}

// SaveChain stores chain under name, replacing any model already stored with that
// name. Only the non-zero cells of the transition matrix are written. The entire
// operation is performed within a single transaction.
func SaveChain[T comparable](ctx context.Context, s *Store, name string, chain *Chain[T], codec Codec[T]) (ModelInfo, error) {
	tokens := make([]string, chain.Len())
	for i := range tokens {
		tokens[i] = codec.Encode(chain.vocab.TokenAt(i))
	}
	return s.saveModel(ctx, name, codec.Kind(), tokens, chain.seeds, chain.matrix.weights)
}

// LoadChain reads a stored model back into a Chain. It returns ErrKindMismatch if
// the model was stored with a different codec.
func LoadChain[T comparable](ctx context.Context, s *Store, model ModelInfo, codec Codec[T]) (*Chain[T], error) {
	if model.Kind != codec.Kind() {
		return nil, fmt.Errorf("%w: model %q holds %s, not %s", ErrKindMismatch, model.Name, model.Kind, codec.Kind())
	}
	encoded, seeds, weights, err := s.loadModel(ctx, model)
	if err != nil {
		return nil, err
	}

	tokens := make([]T, len(encoded))
	for i, text := range encoded {
		if tokens[i], err = codec.Decode(text); err != nil {
			return nil, fmt.Errorf("failed to decode token %d of model %q: %w", i, model.Name, err)
		}
	}

	chain, err := NewChain(tokens, seeds, weights)
	if err != nil {
		return nil, fmt.Errorf("stored model %q is damaged: %w", model.Name, err)
	}
	return chain, nil
}

func (s *Store) saveModel(ctx context.Context, name, kind string, tokens []string, seeds []int, weights []float64) (ModelInfo, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not begin transaction for save: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var oldID int
	err = tx.QueryRowContext(ctx, "SELECT model_id FROM markov_models WHERE model_name = ?", name).Scan(&oldID)
	if err == nil {
		if err = deleteModel(ctx, tx, oldID); err != nil {
			return ModelInfo{}, err
		}
		s.logger.InfoContext(ctx, "Replacing existing model",
			slog.String("model_name", name),
			slog.Int("model_id", oldID),
		)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return ModelInfo{}, fmt.Errorf("failed to query for model '%s': %w", name, err)
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO markov_models (model_name, token_kind, vocab_size) VALUES (?, ?, ?)", name, kind, len(tokens))
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to insert model '%s': %w", name, err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to read id of model '%s': %w", name, err)
	}
	model := ModelInfo{Id: int(newID), Name: name, Kind: kind, Size: len(tokens)}

	isSeed := make([]bool, len(tokens))
	for _, i := range seeds {
		isSeed[i] = true
	}

	stmtInsertVocab, err := tx.PrepareContext(ctx, `INSERT INTO markov_vocabulary (model_id, token_index, token_text, is_seed) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to prepare vocabulary insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertVocab)

	for i, text := range tokens {
		if _, err = stmtInsertVocab.ExecContext(ctx, model.Id, i, text, isSeed[i]); err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert token %d of model '%s': %w", i, name, err)
		}
	}

	stmtInsertTransition, err := tx.PrepareContext(ctx, `INSERT INTO markov_transitions (model_id, from_index, to_index, weight) VALUES (?, ?, ?, ?);`)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to prepare transition insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertTransition)

	n := len(tokens)
	var transitions int
	for k, w := range weights {
		if w == 0 {
			continue
		}
		if _, err = stmtInsertTransition.ExecContext(ctx, model.Id, k/n, k%n, w); err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert transition (%d -> %d): %w", k/n, k%n, err)
		}
		transitions++
	}

	if err = tx.Commit(); err != nil {
		return ModelInfo{}, fmt.Errorf("could not commit model '%s': %w", name, err)
	}

	s.logger.InfoContext(ctx, "Model saved",
		slog.String("model_name", name),
		slog.Int("model_id", model.Id),
		slog.String("token_kind", kind),
		slog.Int("vocab_size", n),
		slog.Int("transitions", transitions),
	)
	return model, nil
}

func (s *Store) loadModel(ctx context.Context, model ModelInfo) ([]string, []int, []float64, error) {
	rows, err := s.stmtGetVocab.QueryContext(ctx, model.Id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not query vocabulary: %w", err)
	}

	tokens := make([]string, 0, model.Size)
	var seeds []int
	for rows.Next() {
		var index int
		var text string
		var seed bool
		if err = rows.Scan(&index, &text, &seed); err != nil {
			_ = rows.Close()
			return nil, nil, nil, err
		}
		if index != len(tokens) {
			_ = rows.Close()
			return nil, nil, nil, fmt.Errorf("%w: model %q is missing token %d", ErrInvalidChain, model.Name, len(tokens))
		}
		tokens = append(tokens, text)
		if seed {
			seeds = append(seeds, index)
		}
	}
	_ = rows.Close()
	if err = rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	n := len(tokens)
	weights := make([]float64, n*n)

	tRows, err := s.stmtGetTransitions.QueryContext(ctx, model.Id)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not query transitions: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(tRows)

	for tRows.Next() {
		var from, to int
		var w float64
		if err = tRows.Scan(&from, &to, &w); err != nil {
			return nil, nil, nil, err
		}
		if from < 0 || from >= n || to < 0 || to >= n {
			return nil, nil, nil, fmt.Errorf("%w: transition (%d -> %d) outside vocabulary of %d", ErrInvalidChain, from, to, n)
		}
		weights[from*n+to] = w
	}
	if err = tRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	return tokens, seeds, weights, nil
}

// ExportModel serializes a given model into a JSON format and writes it to the
// provided io.Writer. This is useful for backups or for transferring models.
func (s *Store) ExportModel(ctx context.Context, model ModelInfo, w io.Writer) error {
	tokens, seeds, weights, err := s.loadModel(ctx, model)
	if err != nil {
		return fmt.Errorf("could not load model for export: %w", err)
	}

	n := len(tokens)
	exported := ExportedModel{
		Name:        model.Name,
		Kind:        model.Kind,
		Tokens:      tokens,
		Seeds:       seeds,
		Transitions: make([]ExportedTransition, 0),
	}
	if exported.Seeds == nil {
		exported.Seeds = []int{}
	}
	for k, weight := range weights {
		if weight != 0 {
			exported.Transitions = append(exported.Transitions, ExportedTransition{From: k / n, To: k % n, Weight: weight})
		}
	}

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("vocab_items_exported", n),
		slog.Int("transitions_exported", len(exported.Transitions)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// canonicalTokens decodes every token with codec, validates the resulting chain
// and returns the tokens re-encoded, so a stored model always loads back.
func canonicalTokens[T comparable](codec Codec[T], raw []string, seeds []int, weights []float64) ([]string, error) {
	decoded := make([]T, len(raw))
	for i, text := range raw {
		token, err := codec.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d: %v", ErrInvalidChain, i, err)
		}
		decoded[i] = token
	}
	if _, err := NewChain(decoded, seeds, weights); err != nil {
		return nil, err
	}

	encoded := make([]string, len(decoded))
	for i, token := range decoded {
		encoded[i] = codec.Encode(token)
	}
	return encoded, nil
}

// ImportModel reads a JSON representation of a model from an io.Reader and stores
// it, replacing any model with the same name. The data is validated as a chain
// before anything is written.
func (s *Store) ImportModel(ctx context.Context, r io.Reader) (ModelInfo, error) {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return ModelInfo{}, fmt.Errorf("failed to decode json model: %w", err)
	}
	if imported.Name == "" {
		return ModelInfo{}, fmt.Errorf("%w: model has no name", ErrInvalidChain)
	}
	if imported.Kind != KindWords && imported.Kind != KindBytes {
		return ModelInfo{}, fmt.Errorf("%w: unknown token kind %q", ErrInvalidChain, imported.Kind)
	}

	n := len(imported.Tokens)
	weights := make([]float64, n*n)
	for _, t := range imported.Transitions {
		if t.From < 0 || t.From >= n || t.To < 0 || t.To >= n {
			return ModelInfo{}, fmt.Errorf("%w: transition (%d -> %d) outside vocabulary of %d", ErrInvalidChain, t.From, t.To, n)
		}
		weights[t.From*n+t.To] = t.Weight
	}

	var tokens []string
	var err error
	if imported.Kind == KindBytes {
		tokens, err = canonicalTokens[byte](ByteCodec{}, imported.Tokens, imported.Seeds, weights)
	} else {
		tokens, err = canonicalTokens[string](StringCodec{}, imported.Tokens, imported.Seeds, weights)
	}
	if err != nil {
		return ModelInfo{}, err
	}

	model, err := s.saveModel(ctx, imported.Name, imported.Kind, tokens, imported.Seeds, weights)
	if err != nil {
		return ModelInfo{}, err
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", model.Name),
		slog.Int("target_model_id", model.Id),
		slog.Int("vocab_items_imported", n),
		slog.Int("transitions_imported", len(imported.Transitions)),
	)
	return model, nil
}
