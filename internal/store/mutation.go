package store

import "time"

// Mutation log statuses.
const (
	MutationPending = "pending"
	MutationSent    = "sent"
	MutationFailed  = "failed"
)

// LogMutation journals a user write before it is sent to the server.
func (db *DB) LogMutation(mutationID, kind, chatGUID, targetGUID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO mutation_log (mutation_id, kind, chat_guid, target_guid, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mutationID, kind, chatGUID, targetGUID, MutationPending, now, now)
	return err
}

// MarkMutationSent marks a journaled write as confirmed by the server.
func (db *DB) MarkMutationSent(mutationID string) error {
	_, err := db.Exec(`UPDATE mutation_log SET status = ?, error_message = '', updated_at = ? WHERE mutation_id = ?`,
		MutationSent, time.Now().UnixMilli(), mutationID)
	return err
}

// MarkMutationFailed marks a journaled write as rejected with an error message.
func (db *DB) MarkMutationFailed(mutationID, errMsg string) error {
	_, err := db.Exec(`UPDATE mutation_log SET status = ?, error_message = ?, updated_at = ? WHERE mutation_id = ?`,
		MutationFailed, errMsg, time.Now().UnixMilli(), mutationID)
	return err
}

// RecentMutations returns the newest journal entries first.
func (db *DB) RecentMutations(limit int) ([]MutationEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, mutation_id, kind, chat_guid, target_guid, status, error_message, created_at, updated_at
		FROM mutation_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []MutationEntry
	for rows.Next() {
		var e MutationEntry
		if err := rows.Scan(&e.ID, &e.MutationID, &e.Kind, &e.ChatGUID, &e.TargetGUID, &e.Status, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
