package models

import "time"

// Message is one ingested chat message. Content may be encrypted at rest.
type Message struct {
	ID              int64     `db:"message_id" json:"message_id"`
	SourceMessageID int64     `db:"source_message_id" json:"source_message_id"`
	CollectionID    int64     `db:"collection_id" json:"collection_id"`
	AuthorID        int64     `db:"author_id" json:"author_id"`
	AuthorName      string    `db:"author_name" json:"author_name"`
	ChannelID       int64     `db:"channel_id" json:"channel_id"`
	Content         string    `db:"content" json:"-"`
	Timestamp       time.Time `db:"timestamp" json:"timestamp"`
}
