package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tradeshare/internal/errors"
	"tradeshare/internal/events"
	"tradeshare/internal/ledger"
	"tradeshare/internal/models"
)

// SQLiteStore implements Store using SQLite. Positions, replicas, ledger
// entries and events are stored as JSON documents next to the columns used
// for lookups.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithClock(dbPath, time.Now)
}

// NewSQLiteStoreWithClock opens the database with an injected clock for
// ledger and event timestamps.
func NewSQLiteStoreWithClock(dbPath string, now func() time.Time) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, now: now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Canonical positions held by their owners
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Recipient replicas of shared positions
	CREATE TABLE IF NOT EXISTS replicas (
		id TEXT PRIMARY KEY,
		original_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		document TEXT NOT NULL,
		last_synced_at DATETIME,
		UNIQUE(user_id, original_id)
	);

	-- Local edits not yet synced, one row per replica
	CREATE TABLE IF NOT EXISTS ledger_entries (
		replica_id TEXT PRIMARY KEY,
		last_local_update DATETIME NOT NULL,
		entry TEXT NOT NULL
	);

	-- Advisory change events
	CREATE TABLE IF NOT EXISTS change_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		position_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		recipients TEXT NOT NULL,
		processed TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	-- Last successful sync per replica
	CREATE TABLE IF NOT EXISTS sync_status (
		replica_id TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		had_conflicts INTEGER NOT NULL DEFAULT 0,
		merged_changes INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions(owner_id);
	CREATE INDEX IF NOT EXISTS idx_replicas_user ON replicas(user_id);
	CREATE INDEX IF NOT EXISTS idx_replicas_original ON replicas(original_id);
	CREATE INDEX IF NOT EXISTS idx_events_position ON change_events(position_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON change_events(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Canonical Positions
// ============================================================================

// GetPosition loads a canonical position.
func (s *SQLiteStore) GetPosition(ctx context.Context, id models.PositionID) (*models.Position, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM positions WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, notFound("position", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	var p models.Position
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("failed to decode position %s: %w", id, err)
	}
	return &p, nil
}

// ListPositions returns the positions owned by owner, oldest first.
func (s *SQLiteStore) ListPositions(ctx context.Context, owner models.UserID) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document FROM positions WHERE owner_id = ? ORDER BY created_at ASC, id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		var p models.Position
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("failed to decode position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePosition inserts or replaces a canonical position.
func (s *SQLiteStore) SavePosition(ctx context.Context, p *models.Position) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode position: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM positions WHERE id = ?`, p.ID).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to check position owner: %w", err)
	case models.UserID(owner) != p.OwnerID:
		return errors.Wrapf(errors.ErrOwnerImmutable, "position %s", p.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (id, owner_id, symbol, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.OwnerID, p.Symbol, string(doc), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeletePosition removes a canonical position.
func (s *SQLiteStore) DeletePosition(ctx context.Context, id models.PositionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("position", id)
	}
	return nil
}

// ============================================================================
// Replicas
// ============================================================================

// GetReplica loads a replica.
func (s *SQLiteStore) GetReplica(ctx context.Context, id models.ReplicaID) (*models.SharedReplica, error) {
	rs, err := s.queryReplicas(ctx, `SELECT document FROM replicas WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, notFound("replica", id)
	}
	return &rs[0], nil
}

// GetReplicaByOriginal returns user's replica of the canonical position.
func (s *SQLiteStore) GetReplicaByOriginal(ctx context.Context, user models.UserID, original models.PositionID) (*models.SharedReplica, error) {
	rs, err := s.queryReplicas(ctx, `SELECT document FROM replicas WHERE user_id = ? AND original_id = ?`, user, original)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, notFound("replica of", original)
	}
	return &rs[0], nil
}

// ListReplicas returns every replica held by user.
func (s *SQLiteStore) ListReplicas(ctx context.Context, user models.UserID) ([]models.SharedReplica, error) {
	return s.queryReplicas(ctx, `SELECT document FROM replicas WHERE user_id = ? ORDER BY id`, user)
}

// ListReplicasOf returns every replica of the canonical position.
func (s *SQLiteStore) ListReplicasOf(ctx context.Context, original models.PositionID) ([]models.SharedReplica, error) {
	return s.queryReplicas(ctx, `SELECT document FROM replicas WHERE original_id = ? ORDER BY id`, original)
}

func (s *SQLiteStore) queryReplicas(ctx context.Context, query string, args ...any) ([]models.SharedReplica, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query replicas: %w", err)
	}
	defer rows.Close()

	var out []models.SharedReplica
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan replica: %w", err)
		}
		var r models.SharedReplica
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("failed to decode replica: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveReplica inserts or replaces a replica.
func (s *SQLiteStore) SaveReplica(ctx context.Context, r *models.SharedReplica) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := putReplica(ctx, tx, r); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func putReplica(ctx context.Context, q queryer, r *models.SharedReplica) error {
	var original string
	err := q.QueryRowContext(ctx, `SELECT original_id FROM replicas WHERE id = ?`, r.ID).Scan(&original)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to check replica: %w", err)
	case models.PositionID(original) != r.OriginalID:
		return errors.Wrapf(errors.ErrOriginalImmutable, "replica %s", r.ID)
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode replica: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT OR REPLACE INTO replicas (id, original_id, user_id, document, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.OriginalID, r.UserID, string(doc), r.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to save replica: %w", err)
	}
	return nil
}

// DeleteReplica removes the replica together with its ledger entry and
// sync status.
func (s *SQLiteStore) DeleteReplica(ctx context.Context, id models.ReplicaID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM replicas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete replica: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("replica", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE replica_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_status WHERE replica_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete sync status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// Change Ledger
// ============================================================================

// RecordChange appends a local edit to the replica's ledger entry.
func (s *SQLiteStore) RecordChange(ctx context.Context, id models.ReplicaID, facet models.Facet, data any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := getLedgerEntry(ctx, tx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &models.ChangeLedgerEntry{}
	}
	ledger.Append(entry, facet, data, s.now())

	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO ledger_entries (replica_id, last_local_update, entry)
		VALUES (?, ?, ?)
	`, id, entry.LastLocalUpdate, string(doc))
	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func getLedgerEntry(ctx context.Context, q queryer, id models.ReplicaID) (*models.ChangeLedgerEntry, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT entry FROM ledger_entries WHERE replica_id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	var entry models.ChangeLedgerEntry
	if err := json.Unmarshal([]byte(doc), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entry for %s: %w", id, err)
	}
	return &entry, nil
}

// HasUnsyncedChanges reports whether the replica has local edits.
func (s *SQLiteStore) HasUnsyncedChanges(ctx context.Context, id models.ReplicaID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE replica_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return n > 0, nil
}

// GetUnsyncedChanges returns the replica's ledger entry, or nil.
func (s *SQLiteStore) GetUnsyncedChanges(ctx context.Context, id models.ReplicaID) (*models.ChangeLedgerEntry, error) {
	return getLedgerEntry(ctx, s.db, id)
}

// ClearChanges drops the replica's ledger entry.
func (s *SQLiteStore) ClearChanges(ctx context.Context, id models.ReplicaID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE replica_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear changes: %w", err)
	}
	return nil
}

// ListPositionsWithChanges returns the replicas that have local edits.
func (s *SQLiteStore) ListPositionsWithChanges(ctx context.Context) ([]models.ReplicaID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT replica_id FROM ledger_entries ORDER BY replica_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	ids := []models.ReplicaID{}
	for rows.Next() {
		var id models.ReplicaID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ============================================================================
// Change Events
// ============================================================================

// Publish appends a change event.
func (s *SQLiteStore) Publish(ctx context.Context, eventType models.EventType, canonical *models.Position, publisher models.UserID, data map[string]any) (models.ChangeEvent, error) {
	ev := events.NewEvent(eventType, canonical, publisher, data, s.now())

	recipients, err := json.Marshal(ev.Recipients)
	if err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to encode event recipients: %w", err)
	}
	processed, err := json.Marshal(ev.Processed)
	if err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to encode processed set: %w", err)
	}
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_events (id, type, position_id, owner_id, recipients, processed, timestamp, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Type, ev.PositionID, ev.OwnerID, string(recipients), string(processed), ev.Timestamp, string(payload))
	if err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to publish event: %w", err)
	}
	return ev, nil
}

func scanEvents(ctx context.Context, q queryer, where string, args ...any) ([]models.ChangeEvent, error) {
	query := `SELECT id, type, position_id, owner_id, recipients, processed, timestamp, data FROM change_events`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY timestamp ASC, rowid ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeEvent
	for rows.Next() {
		var ev models.ChangeEvent
		var recipients, processed, data string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.PositionID, &ev.OwnerID, &recipients, &processed, &ev.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &ev.Recipients); err != nil {
			return nil, fmt.Errorf("failed to decode recipients of event %s: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(processed), &ev.Processed); err != nil {
			return nil, fmt.Errorf("failed to decode processed set of event %s: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data of event %s: %w", ev.ID, err)
		}
		if ev.Processed == nil {
			ev.Processed = []models.UserID{}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func markProcessed(ctx context.Context, q queryer, ev *models.ChangeEvent, user models.UserID) error {
	ev.Processed = append(ev.Processed, user)
	processed, err := json.Marshal(ev.Processed)
	if err != nil {
		return fmt.Errorf("failed to encode processed set of event %s: %w", ev.ID, err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE change_events SET processed = ? WHERE id = ?`, string(processed), ev.ID); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", ev.ID, err)
	}
	return nil
}

// Consume returns and marks processed the events pending for user.
func (s *SQLiteStore) Consume(ctx context.Context, user models.UserID) ([]models.ChangeEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	all, err := scanEvents(ctx, tx, "")
	if err != nil {
		return nil, err
	}
	out := []models.ChangeEvent{}
	for i := range all {
		if !all[i].PendingFor(user) {
			continue
		}
		if err := markProcessed(ctx, tx, &all[i], user); err != nil {
			return nil, err
		}
		out = append(out, all[i])
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

// Pending returns the events pending for user without consuming them.
func (s *SQLiteStore) Pending(ctx context.Context, user models.UserID) ([]models.ChangeEvent, error) {
	all, err := scanEvents(ctx, s.db, "")
	if err != nil {
		return nil, err
	}
	out := []models.ChangeEvent{}
	for _, ev := range all {
		if ev.PendingFor(user) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// HasPendingEventsFor reports whether user has unprocessed events on position.
func (s *SQLiteStore) HasPendingEventsFor(ctx context.Context, user models.UserID, position models.PositionID) (bool, error) {
	ids, err := s.PendingIDsFor(ctx, user, position)
	return len(ids) > 0, err
}

// PendingIDsFor returns the ids of user's unprocessed events on position.
func (s *SQLiteStore) PendingIDsFor(ctx context.Context, user models.UserID, position models.PositionID) ([]models.EventID, error) {
	evs, err := scanEvents(ctx, s.db, "position_id = ?", position)
	if err != nil {
		return nil, err
	}
	var ids []models.EventID
	for _, ev := range evs {
		if ev.PendingFor(user) {
			ids = append(ids, ev.ID)
		}
	}
	return ids, nil
}

// PruneEvents drops fully processed events older than retention.
func (s *SQLiteStore) PruneEvents(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	evs, err := scanEvents(ctx, tx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, ev := range evs {
		if !ev.FullyProcessed() || !ev.Timestamp.Before(cutoff) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM change_events WHERE id = ?`, ev.ID); err != nil {
			return 0, fmt.Errorf("failed to prune event: %w", err)
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

// ============================================================================
// Sync
// ============================================================================

// GetSyncStatus returns the replica's last sync status, or nil if it has
// never been synced.
func (s *SQLiteStore) GetSyncStatus(ctx context.Context, id models.ReplicaID) (*SyncStatus, error) {
	st := SyncStatus{ReplicaID: id}
	var hadConflicts int
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync, had_conflicts, merged_changes FROM sync_status WHERE replica_id = ?
	`, id).Scan(&st.LastSync, &hadConflicts, &st.MergedChanges)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	st.HadConflicts = hadConflicts == 1
	return &st, nil
}

// Commit applies c in a single transaction.
func (s *SQLiteStore) Commit(ctx context.Context, c Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := c.Replica.ID
	current, err := getLedgerEntry(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ledgerMatches(current, c.LedgerSeen) {
		return ErrLedgerChanged
	}

	if err := putReplica(ctx, tx, &c.Replica); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE replica_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear changes: %w", err)
	}

	if len(c.Events) > 0 {
		want := make(map[models.EventID]bool, len(c.Events))
		for _, e := range c.Events {
			want[e] = true
		}
		evs, err := scanEvents(ctx, tx, "position_id = ?", c.Replica.OriginalID)
		if err != nil {
			return err
		}
		for i := range evs {
			if want[evs[i].ID] && evs[i].PendingFor(c.User) {
				if err := markProcessed(ctx, tx, &evs[i], c.User); err != nil {
					return err
				}
			}
		}
	}

	hadConflicts := 0
	if c.Status.HadConflicts {
		hadConflicts = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_status (replica_id, last_sync, had_conflicts, merged_changes, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, c.Status.LastSync, hadConflicts, c.Status.MergedChanges, s.now())
	if err != nil {
		return fmt.Errorf("failed to set sync status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
