// Package sqlite provides a SQLite-backed transport for relayflow.
//
// Messages persist in a single-file database. Subscribers poll for
// pending rows and lock them while in flight, so the queue survives a
// process restart. Delivery is competing-consumer on both legs; use a
// broker transport when true fan-out is needed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/drblury/relayflow/internal/relay/jsoncodec"
	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "sqlite"

const (
	// DefaultPollInterval is how often the subscriber checks for claimable rows.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxRedeliveries is the redelivery budget before a message is
	// parked as failed.
	DefaultMaxRedeliveries = 3
	// DefaultLockTimeout bounds how long a claimed row stays invisible to
	// other consumers.
	DefaultLockTimeout = 30 * time.Second
)

const (
	sqlCreate = `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payload BLOB NOT NULL,
		metadata TEXT,
		redelivery_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		available_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		locked_until TIMESTAMP,
		failed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_claimable ON messages (topic, status, available_at);`

	sqlInsert = `
	INSERT INTO messages (uuid, topic, payload, metadata, available_at)
	VALUES (?, ?, ?, ?, ?)`

	// The pool is capped at one connection, so the subquery and the update
	// cannot race another claimer.
	sqlClaim = `
	UPDATE messages
	SET locked_until = ?
	WHERE id = (
		SELECT id FROM messages
		WHERE topic = ? AND status = 'pending'
		  AND available_at <= ?
		  AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY available_at
		LIMIT 1
	)
	RETURNING id, uuid, payload, metadata`

	sqlComplete = `DELETE FROM messages WHERE id = ?`

	sqlReadCount = `SELECT redelivery_count FROM messages WHERE id = ?`

	sqlPark = `
	UPDATE messages
	SET status = 'failed', locked_until = NULL, failed_at = ?
	WHERE id = ?`

	sqlRetry = `
	UPDATE messages
	SET redelivery_count = redelivery_count + 1, locked_until = NULL, available_at = ?
	WHERE id = ?`

	sqlRelease = `UPDATE messages SET locked_until = NULL WHERE id = ?`

	sqlCount = `SELECT COUNT(*) FROM messages WHERE topic = ? AND status = ?`

	sqlRequeue = `
	UPDATE messages
	SET status = 'pending', redelivery_count = 0, failed_at = NULL, available_at = ?
	WHERE topic = ? AND status = 'failed'`
)

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build creates a new SQLite transport. One store carries the queue and
// fan-out legs; topics are distinguished per row.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		QueuePublisher:  t,
		QueueSubscriber: t,
		FanoutPublisher: t,
	}, nil
}

// Capabilities reports the backend's feature sheet.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Config carries the SQLite queue settings.
type Config struct {
	// FilePath locates the database file. ":memory:" keeps the queue in
	// memory, which suits tests.
	FilePath string
	// PollInterval is how often the subscriber checks for claimable rows.
	PollInterval time.Duration
	// MaxRedeliveries is the redelivery budget before a message is parked
	// as failed.
	MaxRedeliveries int
	// LockTimeout bounds how long a claimed row stays invisible to other
	// consumers.
	LockTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.FilePath == "" {
		c.FilePath = "relayflow_queue.db"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRedeliveries < 0 {
		c.MaxRedeliveries = DefaultMaxRedeliveries
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	return c
}

// Transport implements Publisher and Subscriber on top of a SQLite
// message table.
type Transport struct {
	config Config
	logger watermill.LoggerAdapter

	db *sql.DB

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New opens the database file and prepares the message table.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.normalized()

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows one writer; a second connection would also lose the
	// shared cache of an in-memory database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqlCreate); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Transport{
		config: cfg,
		logger: logger,
		db:     db,
		done:   make(chan struct{}),
	}, nil
}

// Publish stores messages under the given topic in one transaction.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if err := t.closedErr(); err != nil {
		return err
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, msg := range messages {
		meta, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.Exec(sqlInsert, msg.UUID, topic, msg.Payload, string(meta), now); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.UUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Subscribe starts polling the topic and returns the delivery channel. The
// channel closes when ctx ends or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if err := t.closedErr(); err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	t.wg.Add(1)
	go t.poll(ctx, topic, out)
	return out, nil
}

func (t *Transport) poll(ctx context.Context, topic string, out chan<- *message.Message) {
	defer t.wg.Done()
	defer close(out)

	wake := time.NewTicker(t.config.PollInterval)
	defer wake.Stop()

	for {
		select {
		case <-wake.C:
			t.deliverNext(ctx, topic, out)
		case <-t.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deliverNext claims one pending row, hands it to the subscriber and waits
// for the ack decision. A shutdown mid-flight releases the claim so the
// message stays deliverable.
func (t *Transport) deliverNext(ctx context.Context, topic string, out chan<- *message.Message) {
	id, msg, ok := t.claim(ctx, topic)
	if !ok {
		return
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		t.release(id)
		return
	case <-t.done:
		t.release(id)
		return
	}

	select {
	case <-msg.Acked():
		t.complete(id)
	case <-msg.Nacked():
		t.settle(id)
	case <-ctx.Done():
		t.release(id)
	case <-t.done:
		t.release(id)
	}
}

func (t *Transport) claim(ctx context.Context, topic string) (int64, *message.Message, bool) {
	now := time.Now().UTC()

	var (
		id      int64
		uuid    string
		payload []byte
		rawMeta string
	)
	err := t.db.QueryRowContext(ctx, sqlClaim, now.Add(t.config.LockTimeout), topic, now, now).
		Scan(&id, &uuid, &payload, &rawMeta)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil, false
	case err != nil:
		t.logError("claim message", err)
		return 0, nil, false
	}

	msg := message.NewMessage(uuid, payload)
	if rawMeta != "" {
		if err := jsoncodec.Unmarshal([]byte(rawMeta), &msg.Metadata); err != nil {
			t.logError("decode metadata", err)
		}
	}
	return id, msg, true
}

func (t *Transport) complete(id int64) {
	if _, err := t.db.Exec(sqlComplete, id); err != nil {
		t.logError("delete acked message", err)
	}
}

// settle requeues a rejected message with a linear backoff, or parks it as
// failed once the redelivery budget is spent.
func (t *Transport) settle(id int64) {
	tx, err := t.db.Begin()
	if err != nil {
		t.logError("begin settle transaction", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	var redeliveries int
	if err := tx.QueryRow(sqlReadCount, id).Scan(&redeliveries); err != nil {
		t.logError("read redelivery count", err)
		return
	}

	now := time.Now().UTC()
	if redeliveries >= t.config.MaxRedeliveries {
		_, err = tx.Exec(sqlPark, now, id)
	} else {
		backoff := time.Duration(redeliveries+1) * time.Second
		_, err = tx.Exec(sqlRetry, now.Add(backoff), id)
	}
	if err != nil {
		t.logError("requeue nacked message", err)
		return
	}

	if err := tx.Commit(); err != nil {
		t.logError("commit settle transaction", err)
	}
}

func (t *Transport) release(id int64) {
	if _, err := t.db.Exec(sqlRelease, id); err != nil {
		t.logError("release message lock", err)
	}
}

func (t *Transport) closedErr() error {
	select {
	case <-t.done:
		return fmt.Errorf("sqlite transport is closed")
	default:
		return nil
	}
}

func (t *Transport) logError(msg string, err error) {
	if t.logger != nil {
		t.logger.Error(msg, err, nil)
	}
}

// Close stops all polling goroutines and closes the database. Safe to call
// more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()
	return t.db.Close()
}

// GetCapabilities reports the backend's feature sheet.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// GetPendingCount reports how many messages wait as pending on a topic.
func (t *Transport) GetPendingCount(topic string) (int64, error) {
	return t.countByStatus(topic, "pending")
}

// GetFailedCount returns the number of messages marked failed for a topic.
func (t *Transport) GetFailedCount(topic string) (int64, error) {
	return t.countByStatus(topic, "failed")
}

func (t *Transport) countByStatus(topic, status string) (int64, error) {
	var n int64
	err := t.db.QueryRow(sqlCount, topic, status).Scan(&n)
	return n, err
}

// RequeueFailed returns failed messages for a topic to the pending state
// for another round of delivery attempts. Returns the number of messages
// requeued.
func (t *Transport) RequeueFailed(topic string) (int64, error) {
	res, err := t.db.Exec(sqlRequeue, time.Now().UTC(), topic)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
