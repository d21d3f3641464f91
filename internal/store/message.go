package store

import (
	"database/sql"
	"fmt"
	"slices"
)

// UpsertMessage inserts or updates a message keyed on GUID. The sender
// handle, when present, is upserted first so the foreign key holds.
// The chat row must already exist.
func (db *DB) UpsertMessage(m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var handleID sql.NullInt64
	if m.Handle != nil && m.Handle.RowID != 0 {
		if err := upsertHandle(tx, m.Handle); err != nil {
			return fmt.Errorf("upsert handle %d: %w", m.Handle.RowID, err)
		}
		handleID = sql.NullInt64{Int64: m.Handle.RowID, Valid: true}
	}

	// The server row id is authoritative: a different GUID stored under it
	// is a stale copy and is replaced.
	if m.RowID != 0 {
		if _, err := tx.Exec(`DELETE FROM messages WHERE original_rowid = ? AND guid <> ?`, m.RowID, m.GUID); err != nil {
			return fmt.Errorf("replace row id %d: %w", m.RowID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (guid, original_rowid, chat_guid, handle_id, text, subject,
			date_created, date_read, date_delivered, date_edited, date_retracted,
			is_from_me, is_delayed, is_auto_reply, is_system_message, is_service_message, is_forward,
			is_archived, is_audio_message, has_dd_results, is_expired,
			item_type, group_title, group_action_type, balloon_bundle_id,
			associated_message_guid, associated_message_type, associated_target_guid,
			expressive_send_style_id, thread_originator_guid, attachments_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			original_rowid = excluded.original_rowid,
			chat_guid = excluded.chat_guid,
			handle_id = excluded.handle_id,
			text = excluded.text,
			subject = excluded.subject,
			date_created = excluded.date_created,
			date_read = excluded.date_read,
			date_delivered = excluded.date_delivered,
			date_edited = excluded.date_edited,
			date_retracted = excluded.date_retracted,
			is_from_me = excluded.is_from_me,
			is_delayed = excluded.is_delayed,
			is_auto_reply = excluded.is_auto_reply,
			is_system_message = excluded.is_system_message,
			is_service_message = excluded.is_service_message,
			is_forward = excluded.is_forward,
			is_archived = excluded.is_archived,
			is_audio_message = excluded.is_audio_message,
			has_dd_results = excluded.has_dd_results,
			is_expired = excluded.is_expired,
			item_type = excluded.item_type,
			group_title = excluded.group_title,
			group_action_type = excluded.group_action_type,
			balloon_bundle_id = excluded.balloon_bundle_id,
			associated_message_guid = excluded.associated_message_guid,
			associated_message_type = excluded.associated_message_type,
			associated_target_guid = excluded.associated_target_guid,
			expressive_send_style_id = excluded.expressive_send_style_id,
			thread_originator_guid = excluded.thread_originator_guid,
			attachments_json = excluded.attachments_json`,
		m.GUID, nullInt(m.RowID), m.ChatGUID, handleID, nullString(m.Text), nullString(m.Subject),
		m.DateCreated, nullInt(m.DateRead), nullInt(m.DateDelivered), nullInt(m.DateEdited), nullInt(m.DateRetracted),
		m.FromMe, m.Delayed, m.AutoReply, m.SystemMessage, m.ServiceMessage, m.Forward,
		m.Archived, m.AudioMessage, m.HasDDResults, m.Expired,
		m.ItemType, nullString(m.GroupTitle), m.GroupActionType, nullString(m.BalloonBundleID),
		nullString(m.AssociatedGUID), nullString(m.AssociatedType), nullString(ReactionTarget(m.AssociatedGUID)),
		nullString(m.ExpressiveSendStyle), nullString(m.ThreadOriginatorGUID), nullString(m.AttachmentsJSON)); err != nil {
		return fmt.Errorf("upsert message %q: %w", m.GUID, err)
	}
	return tx.Commit()
}

const messageSelect = `
	SELECT m.id, m.original_rowid, m.guid, m.chat_guid, m.handle_id, h.address, h.country, h.uncanonicalized_id,
		m.text, m.subject,
		m.date_created, m.date_read, m.date_delivered, m.date_edited, m.date_retracted,
		m.is_from_me, m.is_delayed, m.is_auto_reply, m.is_system_message, m.is_service_message, m.is_forward,
		m.is_archived, m.is_audio_message, m.has_dd_results, m.is_expired,
		m.item_type, m.group_title, m.group_action_type, m.balloon_bundle_id,
		m.associated_message_guid, m.associated_message_type,
		m.expressive_send_style_id, m.thread_originator_guid, m.attachments_json
	FROM messages m
	LEFT JOIN handles h ON h.original_rowid = m.handle_id`

// ListMessages returns a page of a chat's events, reactions included.
// The page is selected newest-first and returned in ascending creation order.
func (db *DB) ListMessages(chatGUID string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := db.queryMessages(messageSelect+`
		WHERE m.chat_guid = ?
		ORDER BY m.date_created DESC, m.id DESC
		LIMIT ? OFFSET ?`, chatGUID, limit, offset)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// GetMessage returns a message by GUID, or nil when it is not cached.
func (db *DB) GetMessage(guid string) (*Message, error) {
	msgs, err := db.queryMessages(messageSelect+` WHERE m.guid = ?`, guid)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// LatestMessageTimestamp returns the greatest creation date stored for a
// chat, or 0 when the chat has no messages.
func (db *DB) LatestMessageTimestamp(chatGUID string) (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`SELECT MAX(date_created) FROM messages WHERE chat_guid = ?`, chatGUID).Scan(&ts)
	return ts.Int64, err
}

func (db *DB) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs := []Message{}
	for rows.Next() {
		m, err := db.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (db *DB) scanMessage(r rowScanner) (*Message, error) {
	var (
		m                                                  Message
		rowID, handleID                                    sql.NullInt64
		address, country, uncanon                          sql.NullString
		text, subject                                      sql.NullString
		dateRead, dateDelivered, dateEdited, dateRetracted sql.NullInt64
		groupTitle, balloon                                sql.NullString
		assocGUID, assocType                               sql.NullString
		sendStyle, threadOrigin, attachments               sql.NullString
	)
	if err := r.Scan(&m.ID, &rowID, &m.GUID, &m.ChatGUID, &handleID, &address, &country, &uncanon,
		&text, &subject,
		&m.DateCreated, &dateRead, &dateDelivered, &dateEdited, &dateRetracted,
		&m.FromMe, &m.Delayed, &m.AutoReply, &m.SystemMessage, &m.ServiceMessage, &m.Forward,
		&m.Archived, &m.AudioMessage, &m.HasDDResults, &m.Expired,
		&m.ItemType, &groupTitle, &m.GroupActionType, &balloon,
		&assocGUID, &assocType,
		&sendStyle, &threadOrigin, &attachments); err != nil {
		return nil, err
	}
	m.RowID = rowID.Int64
	if handleID.Valid {
		m.Handle = &Handle{
			RowID:           handleID.Int64,
			Address:         address.String,
			Country:         country.String,
			Uncanonicalized: uncanon.String,
		}
		m.HandleAddress = address.String
	}
	m.Text = text.String
	m.Subject = subject.String
	m.DateRead = dateRead.Int64
	m.DateDelivered = dateDelivered.Int64
	m.DateEdited = dateEdited.Int64
	m.DateRetracted = dateRetracted.Int64
	m.GroupTitle = groupTitle.String
	m.BalloonBundleID = balloon.String
	m.AssociatedGUID = assocGUID.String
	m.AssociatedType = assocType.String
	m.ExpressiveSendStyle = sendStyle.String
	m.ThreadOriginatorGUID = threadOrigin.String
	m.AttachmentsJSON = attachments.String
	m.Attachments = db.ParseAttachments(m.GUID, m.AttachmentsJSON)
	m.Kind = Classify(m.AssociatedGUID, m.AssociatedType)
	return &m, nil
}
