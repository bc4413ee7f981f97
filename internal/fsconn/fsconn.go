package fsconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
)

// Conn lazily dials a single Firestore client shared by the whole process.
//
// The first operation that needs the client triggers the dial. Callers
// arriving while the dial is still in flight wait on that same attempt
// instead of starting their own. A failed attempt clears the guard so a
// later call can retry; the error is returned to everyone who waited on it.
type Conn struct {
	ProjectId      string
	ConnectTimeout time.Duration

	logger *zap.SugaredLogger

	m       sync.Mutex
	client  *firestore.Client
	pending *attempt
}

type attempt struct {
	done   chan struct{}
	client *firestore.Client
	err    error
}

const DefaultConnectTimeoutSeconds = 10

func New(projectID string, connectTimeout time.Duration, logger *zap.SugaredLogger) *Conn {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeoutSeconds * time.Second
	}
	return &Conn{
		ProjectId:      projectID,
		ConnectTimeout: connectTimeout,
		logger:         logger,
	}
}

// Client returns the shared Firestore client, dialing it on first use.
func (c *Conn) Client(ctx context.Context) (*firestore.Client, error) {
	c.m.Lock()
	if c.client != nil {
		client := c.client
		c.m.Unlock()
		return client, nil
	}
	if p := c.pending; p != nil {
		c.m.Unlock()
		select {
		case <-p.done:
			return p.client, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p := &attempt{done: make(chan struct{})}
	c.pending = p
	c.m.Unlock()

	// The dial runs under its own timeout rather than the triggering
	// request's context, so one cancelled request cannot fail the waiters.
	dialCtx, cancel := context.WithTimeout(context.Background(), c.ConnectTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, c.ProjectId)

	c.m.Lock()
	c.pending = nil
	if err != nil {
		c.m.Unlock()
		p.err = fmt.Errorf("firestore connect: %w", err)
		close(p.done)
		c.logger.Errorf("firestore connect failed: %v", err)
		return nil, p.err
	}
	c.client = client
	c.m.Unlock()

	p.client = client
	close(p.done)
	c.logger.Infof("connected to Firestore project %s", c.ProjectId)
	return client, nil
}

// Close releases the client if one was ever dialed.
func (c *Conn) Close() error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}
