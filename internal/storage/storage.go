package storage

import (
	"context"
	"time"
)

// IndexStatus tracks the lifecycle of a FileRecord.
type IndexStatus string

const (
	// StatusPending marks a record created on discovery, before its first
	// successful summarization.
	StatusPending IndexStatus = "pending"
	// StatusIndexed marks a record whose summary matches its fingerprint.
	StatusIndexed IndexStatus = "indexed"
	// StatusFailed marks a record whose last summarization attempt failed.
	StatusFailed IndexStatus = "failed"
)

// Store defines the persistence interface for the file index and the
// conversation turn log.
type Store interface {
	// File record operations. UpsertFileRecord overwrites any existing
	// record for the same path atomically with respect to Snapshot.
	UpsertFileRecord(ctx context.Context, rec *FileRecord) error
	GetFileRecord(ctx context.Context, path string) (*FileRecord, error)
	DeleteFileRecord(ctx context.Context, path string) error

	// Snapshot returns the full, consistent set of file records visible
	// at one instant, ordered by path. The store may continue mutating
	// concurrently; the returned snapshot is immutable.
	Snapshot(ctx context.Context) (*IndexSnapshot, error)

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)

	// AppendExchange appends a user turn and its assistant reply in a
	// single transaction, assigning consecutive turn indices. Either
	// both turns commit or neither does.
	AppendExchange(ctx context.Context, sessionID string, user, assistant *Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]*Turn, error)

	// Stats aggregates index counts for status reporting.
	Stats(ctx context.Context) (*IndexStats, error)

	Close() error
}

// FileRecord is the durable index entry for one source file. Path is
// the unique key, relative to the indexed root.
type FileRecord struct {
	Path          string
	Fingerprint   string // hex sha256 of raw content
	Language      string
	SizeBytes     int64
	TokenEstimate int
	Summary       string
	Status        IndexStatus
	FailReason    string // set only when Status == StatusFailed
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IndexSnapshot is an immutable view of all file records taken at one
// instant, used for a single retrieval operation.
type IndexSnapshot struct {
	Records []*FileRecord
	TakenAt time.Time
}

// Session identifies one conversation and its originating project root.
type Session struct {
	ID        string
	Project   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one immutable message in a conversation session. TurnIndex is
// strictly increasing and gap-free within a session.
type Turn struct {
	ID           int64
	SessionID    string
	TurnIndex    int
	Role         string
	Content      string
	ContextPaths []string // file paths included as context for this turn
	CreatedAt    time.Time
}

// IndexStats aggregates index counts for status reporting.
type IndexStats struct {
	FilesTotal   int
	FilesIndexed int
	FilesFailed  int
	FilesPending int
	TotalTokens  int
	Sessions     int
	DBSizeBytes  int64
}
