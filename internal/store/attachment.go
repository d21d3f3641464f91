package store

import (
	"encoding/json"

	"go.uber.org/zap"
)

// ParseAttachments decodes a stored attachment blob. Decoding is best
// effort: a malformed blob yields an empty slice and malformed items are
// skipped, so a single bad row never fails a thread read.
func (db *DB) ParseAttachments(messageGUID, blob string) []Attachment {
	out := []Attachment{}
	if blob == "" {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(blob), &items); err != nil {
		db.logger.Warn("unreadable attachment blob", zap.String("message_guid", messageGUID), zap.Error(err))
		return out
	}
	for i, raw := range items {
		var a Attachment
		if err := json.Unmarshal(raw, &a); err != nil || a.GUID == "" {
			db.logger.Debug("skipping attachment item",
				zap.String("message_guid", messageGUID), zap.Int("index", i), zap.Error(err))
			continue
		}
		a.Raw = raw
		out = append(out, a)
	}
	return out
}
