package profile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getsentry/calltrace/internal/errorutil"
	"github.com/getsentry/calltrace/internal/method"
)

// Container bundles a registry with the sessions whose method ids it
// resolves. It is treated as immutable once built.
type Container struct {
	ID       string
	Registry *method.Registry
	Sessions []*Session
}

func NewContainer(registry *method.Registry, sessions []*Session) *Container {
	return &Container{
		ID:       uuid.New().String(),
		Registry: registry,
		Sessions: sessions,
	}
}

func (c *Container) Len() int {
	return len(c.Sessions)
}

// Session returns the first session captured on a thread with that name.
func (c *Container) Session(threadName string) (*Session, error) {
	for _, s := range c.Sessions {
		if s.ThreadName == threadName {
			return s, nil
		}
	}
	return nil, fmt.Errorf("profile: %w: no session for thread %q", errorutil.ErrNotFound, threadName)
}

// Timestamp returns the earliest session creation time.
func (c *Container) Timestamp() time.Time {
	var ts time.Time
	for _, s := range c.Sessions {
		if ts.IsZero() || s.CreationTime.Before(ts) {
			ts = s.CreationTime
		}
	}
	return ts
}

// Description returns the first description found in the sessions' metadata.
func (c *Container) Description() string {
	for _, s := range c.Sessions {
		if d := s.Description(); d != "" {
			return d
		}
	}
	return ""
}

// ThreadNames lists the thread names in session order.
func (c *Container) ThreadNames() []string {
	names := make([]string, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		names = append(names, s.ThreadName)
	}
	return names
}
