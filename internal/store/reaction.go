package store

import (
	"strings"
)

// ReactionTarget strips the part-index prefix BlueBubbles puts on
// associated message GUIDs ("p:0/GUID", "bp:GUID") and returns the bare
// GUID of the message the reaction targets.
func ReactionTarget(assoc string) string {
	if assoc == "" {
		return ""
	}
	if i := strings.LastIndexByte(assoc, '/'); i >= 0 {
		assoc = assoc[i+1:]
	}
	return strings.TrimPrefix(assoc, "bp:")
}

// ListReactionsFor returns every reaction event targeting guid, matching
// either the exact associated GUID or its prefixed form, oldest first.
func (db *DB) ListReactionsFor(guid string) ([]Message, error) {
	return db.queryMessages(messageSelect+`
		WHERE (m.associated_message_guid = ? OR m.associated_target_guid = ?)
			AND m.associated_message_type IS NOT NULL
		ORDER BY m.date_created ASC, m.id ASC`, guid, ReactionTarget(guid))
}

// VisibleMessages filters reaction events out of msgs, preserving order.
func VisibleMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsReaction() {
			out = append(out, m)
		}
	}
	return out
}

// ListThread returns a page of visible messages, each paired with the
// reaction events that target it and their aggregated badges.
func (db *DB) ListThread(chatGUID string, limit, offset int) ([]ThreadItem, error) {
	msgs, err := db.ListMessages(chatGUID, limit, offset)
	if err != nil {
		return nil, err
	}
	visible := VisibleMessages(msgs)
	items := make([]ThreadItem, 0, len(visible))
	for _, m := range visible {
		reactions, err := db.ListReactionsFor(m.GUID)
		if err != nil {
			return nil, err
		}
		items = append(items, ThreadItem{
			Message:   m,
			Reactions: reactions,
			Badges:    AggregateReactions(reactions),
		})
	}
	return items, nil
}

var reactionNames = map[string]string{
	"2000": "love", "2001": "like", "2002": "dislike",
	"2003": "laugh", "2004": "emphasize", "2005": "question",
	"love": "love", "like": "like", "dislike": "dislike",
	"laugh": "laugh", "emphasize": "emphasize", "emphasis": "emphasize", "question": "question",
}

// ReactionName maps an associated message type to its tapback name.
// removed reports a removal event ("-love", 3000-3005). Unknown types
// return an empty name.
func ReactionName(assocType string) (name string, removed bool) {
	t := strings.ToLower(strings.TrimSpace(assocType))
	if rest, ok := strings.CutPrefix(t, "-"); ok {
		return reactionNames[rest], true
	}
	if len(t) == 4 && t[0] == '3' && t[1:3] == "00" && t[3] >= '0' && t[3] <= '5' {
		return reactionNames["2"+t[1:]], true
	}
	return reactionNames[t], false
}

// AggregateReactions folds reaction events (oldest first) into badges.
// Each sender contributes at most one reaction: the latest event wins and
// a removal clears it. Badges are ordered by when their first sender reacted.
func AggregateReactions(events []Message) []Badge {
	current := map[string]string{}
	var senders []string
	for _, e := range events {
		name, removed := ReactionName(e.AssociatedType)
		sender := reactionSender(e)
		if _, seen := current[sender]; !seen {
			senders = append(senders, sender)
		}
		if removed || name == "" {
			current[sender] = ""
			continue
		}
		current[sender] = name
	}

	var badges []Badge
	index := map[string]int{}
	for _, s := range senders {
		name := current[s]
		if name == "" {
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(badges)
			index[name] = i
			badges = append(badges, Badge{Reaction: name})
		}
		badges[i].Count++
		if s == "me" {
			badges[i].FromMe = true
		}
	}
	return badges
}

func reactionSender(m Message) string {
	if m.FromMe {
		return "me"
	}
	if m.HandleAddress != "" {
		return m.HandleAddress
	}
	return "unknown"
}
