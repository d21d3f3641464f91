package store

import (
	"database/sql"
	"fmt"
)

// UpsertHandle inserts or replaces a handle keyed on its remote row id.
func (db *DB) UpsertHandle(h *Handle) error {
	return upsertHandle(db, h)
}

func upsertHandle(ex execer, h *Handle) error {
	if h.RowID == 0 {
		return nil
	}
	_, err := ex.Exec(`
		INSERT INTO handles (original_rowid, address, country, uncanonicalized_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(original_rowid) DO UPDATE SET
			address = excluded.address,
			country = excluded.country,
			uncanonicalized_id = excluded.uncanonicalized_id`,
		h.RowID, h.Address, nullString(h.Country), nullString(h.Uncanonicalized))
	return err
}

// UpsertChat replaces a chat row keyed on GUID. A stale chat holding the
// same server row id gives it up. Participant handles are
// upserted first and, when c.Participants is non-nil, the membership rows
// are deleted and re-inserted in the same transaction.
func (db *DB) UpsertChat(c *Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range c.Participants {
		if err := upsertHandle(tx, &c.Participants[i]); err != nil {
			return fmt.Errorf("upsert participant %d: %w", c.Participants[i].RowID, err)
		}
	}

	// A server row id reused under a new GUID (SMS/iMessage split, rebuilt
	// chat.db) moves to the new chat; the old chat keeps its history.
	if c.RowID != 0 {
		if _, err := tx.Exec(`UPDATE chats SET original_rowid = NULL WHERE original_rowid = ? AND guid <> ?`, c.RowID, c.GUID); err != nil {
			return fmt.Errorf("release row id %d: %w", c.RowID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO chats (guid, original_rowid, chat_identifier, style, is_archived, is_filtered,
			display_name, group_id, last_message_text, last_message_date, last_message_from_me, last_message_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			original_rowid = excluded.original_rowid,
			chat_identifier = excluded.chat_identifier,
			style = excluded.style,
			is_archived = excluded.is_archived,
			is_filtered = excluded.is_filtered,
			display_name = excluded.display_name,
			group_id = excluded.group_id,
			last_message_text = excluded.last_message_text,
			last_message_date = excluded.last_message_date,
			last_message_from_me = excluded.last_message_from_me,
			last_message_address = excluded.last_message_address`,
		c.GUID, nullInt(c.RowID), c.Identifier, c.Style, c.Archived, c.Filtered,
		nullString(c.DisplayName), nullString(c.GroupID),
		nullString(c.LastMessage.Text), nullInt(c.LastMessage.Date), c.LastMessage.FromMe, nullString(c.LastMessage.Address)); err != nil {
		return fmt.Errorf("upsert chat %q: %w", c.GUID, err)
	}

	if c.Participants != nil {
		if _, err := tx.Exec(`DELETE FROM chat_participants WHERE chat_guid = ?`, c.GUID); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		for _, h := range c.Participants {
			if h.RowID == 0 {
				continue
			}
			if _, err := tx.Exec(`INSERT OR IGNORE INTO chat_participants (chat_guid, handle_id) VALUES (?, ?)`, c.GUID, h.RowID); err != nil {
				return fmt.Errorf("insert participant %d: %w", h.RowID, err)
			}
		}
	}
	return tx.Commit()
}

// The newest message per chat is picked with a window function; ties on
// date_created resolve by row id so the choice is stable.
const chatSelect = `
	SELECT c.guid, c.original_rowid, c.chat_identifier, c.style, c.is_archived, c.is_filtered,
		c.display_name, c.group_id,
		c.last_message_text, c.last_message_date, c.last_message_from_me, c.last_message_address,
		lm.text, lm.date_created, lm.is_from_me, h.address
	FROM chats c
	LEFT JOIN (
		SELECT chat_guid, text, date_created, is_from_me, handle_id,
			ROW_NUMBER() OVER (PARTITION BY chat_guid ORDER BY date_created DESC, id DESC) AS rn
		FROM messages
	) lm ON lm.chat_guid = c.guid AND lm.rn = 1
	LEFT JOIN handles h ON h.original_rowid = lm.handle_id`

// ListChats returns non-archived chats ordered by their latest activity,
// newest first. Chats with no known activity sort last.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(chatSelect+`
		WHERE c.is_archived = 0
		ORDER BY MAX(COALESCE(c.last_message_date, 0), COALESCE(lm.date_created, 0)) DESC, c.id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		chats = append(chats, *c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range chats {
		participants, err := db.ListChatParticipants(chats[i].GUID)
		if err != nil {
			return nil, fmt.Errorf("participants for %q: %w", chats[i].GUID, err)
		}
		chats[i].Participants = participants
	}
	return chats, nil
}

// GetChat returns a single chat by GUID, or nil when it is not cached.
func (db *DB) GetChat(guid string) (*Chat, error) {
	c, err := scanChat(db.QueryRow(chatSelect+` WHERE c.guid = ?`, guid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	participants, err := db.ListChatParticipants(guid)
	if err != nil {
		return nil, err
	}
	c.Participants = participants
	return c, nil
}

// ChatExists reports whether a chat row with the GUID is present.
func (db *DB) ChatExists(guid string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats WHERE guid = ?`, guid).Scan(&n)
	return n > 0, err
}

// ListChatParticipants returns a chat's handles ordered by address.
func (db *DB) ListChatParticipants(chatGUID string) ([]Handle, error) {
	rows, err := db.Query(`
		SELECT h.original_rowid, h.address, h.country, h.uncanonicalized_id
		FROM handles h
		JOIN chat_participants cp ON cp.handle_id = h.original_rowid
		WHERE cp.chat_guid = ?
		ORDER BY h.address, h.original_rowid`, chatGUID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	handles := []Handle{}
	for rows.Next() {
		var h Handle
		var country, uncanon sql.NullString
		if err := rows.Scan(&h.RowID, &h.Address, &country, &uncanon); err != nil {
			return nil, err
		}
		h.Country = country.String
		h.Uncanonicalized = uncanon.String
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

func scanChat(r rowScanner) (*Chat, error) {
	var (
		c                             Chat
		rowID, storedDate, newestDate sql.NullInt64
		displayName, groupID          sql.NullString
		storedText, storedAddr        sql.NullString
		newestText, newestAddr        sql.NullString
		newestFromMe                  sql.NullBool
	)
	if err := r.Scan(&c.GUID, &rowID, &c.Identifier, &c.Style, &c.Archived, &c.Filtered,
		&displayName, &groupID,
		&storedText, &storedDate, &c.LastMessage.FromMe, &storedAddr,
		&newestText, &newestDate, &newestFromMe, &newestAddr); err != nil {
		return nil, err
	}
	c.RowID = rowID.Int64
	c.DisplayName = displayName.String
	c.GroupID = groupID.String
	c.LastMessage.Text = storedText.String
	c.LastMessage.Date = storedDate.Int64
	c.LastMessage.Address = storedAddr.String

	if newestDate.Valid && newestDate.Int64 >= c.LastMessage.Date {
		c.LastMessage = Preview{
			Text:    newestText.String,
			Date:    newestDate.Int64,
			FromMe:  newestFromMe.Bool,
			Address: newestAddr.String,
		}
	}
	return &c, nil
}
