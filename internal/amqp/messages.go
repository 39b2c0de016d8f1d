package amqp

import (
	"encoding/json"
	"time"
)

// ReminderMessage is the payload queued for the notification worker. It
// carries only identifiers and scheduling facts; the worker fetches the full
// subscription from the database.
type ReminderMessage struct {
	ReminderID     string    `json:"reminder_id"`
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	DueDate        time.Time `json:"due_date"`
	DaysUntil      int       `json:"days_until"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewReminderMessage(reminderID, subscriptionID, userID string, dueDate time.Time, daysUntil int) *ReminderMessage {
	return &ReminderMessage{
		ReminderID:     reminderID,
		SubscriptionID: subscriptionID,
		UserID:         userID,
		DueDate:        dueDate,
		DaysUntil:      daysUntil,
		Timestamp:      time.Now(),
	}
}

func (m *ReminderMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReminderMessageFromJSON(data []byte) (*ReminderMessage, error) {
	var msg ReminderMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
