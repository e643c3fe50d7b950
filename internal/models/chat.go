package models

// Chat is a conversation polled through the collector.
type Chat struct {
	ID                     int64  `db:"id" json:"id"`
	ExternalID             int64  `db:"external_id" json:"external_id"`
	Source                 string `db:"source" json:"source"`
	Name                   string `db:"name" json:"title"`
	IsGroup                bool   `db:"is_group" json:"is_group"`
	ChatType               string `db:"chat_type" json:"chat_type"` // user, group, chat, channel
	MonitoringActive       bool   `db:"monitoring_active" json:"is_monitored"`
	LastCollectedMessageID int64  `db:"last_collected_message_id" json:"last_collected_message_id"`
}
