package storage

import "time"

// Thread binds one sender (phone number) to the conversation thread that
// carries its message history. A sender owns exactly one thread.
type Thread struct {
	// ID is the autoincrement primary key (internal use).
	ID uint64 `gorm:"primaryKey"`
	// Sender is the provider-level identifier, e.g. "+15551234567".
	Sender string `gorm:"size:64;not null;uniqueIndex"`
	// ThreadID is the opaque identifier handed to the orchestration core.
	ThreadID string `gorm:"size:64;not null;uniqueIndex"`
	// LastActiveAt is bumped after every completed turn; retention uses it to find idle threads.
	LastActiveAt time.Time `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

// ThreadMessage is one entry of a thread's append-only history.
//
// The full message (tool calls included) is kept as JSON in Payload; Role, Name and
// ToolCallID are duplicated into columns so history can be inspected without decoding.
type ThreadMessage struct {
	ID uint64 `gorm:"primaryKey"`
	// ThreadID and Seq are unique together; Seq starts at 0 and has no gaps.
	ThreadID   string    `gorm:"size:64;not null;uniqueIndex:idx_thread_messages_thread_seq,priority:1"`
	Seq        int       `gorm:"not null;uniqueIndex:idx_thread_messages_thread_seq,priority:2"`
	Role       string    `gorm:"size:16;not null"`
	Name       string    `gorm:"size:64"`
	ToolCallID string    `gorm:"size:128"`
	Payload    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// ConversationTurn is the durable record written once per handled inbound message.
type ConversationTurn struct {
	ID        uint64    `gorm:"primaryKey"`
	Sender    string    `gorm:"size:64;not null;index"`
	ThreadID  string    `gorm:"size:64;not null;index"`
	Message   string    `gorm:"type:text;not null"`
	Response  string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}

// AuditRecord records one tool invocation performed on behalf of a conversation.
type AuditRecord struct {
	ID uint64 `gorm:"primaryKey"`
	// TraceID ties the record to one inbound message.
	TraceID string `gorm:"size:64;index"`
	// ThreadID is optional; empty for invocations outside a conversation.
	ThreadID string `gorm:"size:64;index"`
	// Action is the tool name, e.g. book_appointment.
	Action     string `gorm:"size:128;not null;index"`
	ParamsJSON string `gorm:"type:text"`
	ResultJSON string `gorm:"type:text"`
	// Status is one of running/success/failed.
	Status       string    `gorm:"size:32;not null;index"`
	ErrorMessage string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index"`
}
