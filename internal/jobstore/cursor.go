package jobstore

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/transcriber/internal/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Cursor is the keyset position after the last job of a page.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListFilter selects jobs for ListJobs. Empty fields match everything.
type ListFilter struct {
	Owner    string
	Status   domain.JobStatus
	Type     domain.JobType
	PageSize int
	Cursor   *Cursor
}

// ListPage is one page of ListJobs output.
type ListPage struct {
	Jobs       []*domain.Job `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}

// ClampPageSize applies the default and the upper bound.
func ClampPageSize(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}

// DecodeCursor parses an opaque cursor. An empty string means the first page.
func DecodeCursor(cursorStr string) (*Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &Cursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		JobID:     parts[1],
	}, nil
}

func EncodeCursor(cursor *Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}

// before reports whether job sorts after the cursor in newest-first order.
func (c *Cursor) before(job *domain.Job) bool {
	if job.CreatedAt.Equal(c.CreatedAt) {
		return job.ID < c.JobID
	}
	return job.CreatedAt.Before(c.CreatedAt)
}

func (f ListFilter) matches(job *domain.Job) bool {
	if f.Owner != "" && job.Owner != f.Owner {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	if f.Cursor != nil && !f.Cursor.before(job) {
		return false
	}
	return true
}
