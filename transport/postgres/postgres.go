// Package postgres provides a PostgreSQL-backed transport for relayflow.
//
// Messages persist in a schema-qualified table. Subscribers claim pending
// rows with FOR UPDATE SKIP LOCKED, so multiple consumer processes can
// drain the same queue without double delivery. Delivery is
// competing-consumer on both legs; use a broker transport when true
// fan-out is needed.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/lib/pq" // registers the postgres driver

	"github.com/drblury/relayflow/internal/relay/jsoncodec"
	"github.com/drblury/relayflow/transport"
)

// TransportName keys this backend in the transport registry.
const TransportName = "postgres"

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

func init() {
	Register()
}

// Register adds the backend to the default registry under TransportName.
// "postgresql" is accepted as an alias.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities)
}

// Build creates a new PostgreSQL transport. One store carries the queue
// and fan-out legs; topics are distinguished per row.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{ConnectionString: cfg.GetPostgresURL()}, logger)
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
	return transport.PostgresCapabilities
}

// Config carries the PostgreSQL queue settings.
type Config struct {
	// ConnectionString points at the server, in URL or key=value form.
	ConnectionString string
	// PollInterval is how often the subscriber checks for claimable rows.
	PollInterval time.Duration
	// MaxRedeliveries is the redelivery budget before a message is parked
	// as failed.
	MaxRedeliveries int
	// LockTimeout bounds how long a claimed row stays invisible to other
	// consumers.
	LockTimeout time.Duration
	// SchemaName is the schema holding the messages table. Defaults to
	// "relayflow".
	SchemaName string
	// MaxOpenConns caps the connection pool.
	MaxOpenConns int
	// MaxIdleConns sets how many idle connections the pool retains.
	MaxIdleConns int
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRedeliveries < 0 {
		c.MaxRedeliveries = DefaultMaxRedeliveries
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.SchemaName == "" {
		c.SchemaName = "relayflow"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

// statements holds the SQL this transport runs, rendered once per schema.
type statements struct {
	insert       string
	claim        string
	complete     string
	settle       string
	release      string
	releaseStale string
	count        string
	requeue      string
}

// renderStatements splices the schema name into the SQL. The name passed
// validIdentifier before it gets here.
func renderStatements(schema string) statements {
	// #nosec G201 -- schema restricted to [A-Za-z_][A-Za-z0-9_]*
	return statements{
		insert: fmt.Sprintf(`
			INSERT INTO %s.messages (uuid, topic, payload, metadata)
			VALUES ($1, $2, $3, $4)`, schema),
		claim: fmt.Sprintf(`
			UPDATE %[1]s.messages
			SET locked_until = $1
			WHERE id = (
				SELECT id FROM %[1]s.messages
				WHERE topic = $2
				  AND status = 'pending'
				  AND available_at <= $3
				  AND (locked_until IS NULL OR locked_until < $3)
				ORDER BY available_at
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id, uuid, payload, metadata`, schema),
		complete: fmt.Sprintf(`DELETE FROM %s.messages WHERE id = $1`, schema),
		settle: fmt.Sprintf(`
			UPDATE %s.messages
			SET locked_until = NULL,
			    status = CASE WHEN redelivery_count >= $1 THEN 'failed' ELSE status END,
			    failed_at = CASE WHEN redelivery_count >= $1 THEN NOW() ELSE failed_at END,
			    available_at = CASE WHEN redelivery_count >= $1 THEN available_at
			                        ELSE NOW() + make_interval(secs => 2 ^ redelivery_count) END,
			    redelivery_count = CASE WHEN redelivery_count >= $1 THEN redelivery_count
			                            ELSE redelivery_count + 1 END
			WHERE id = $2`, schema),
		release: fmt.Sprintf(`UPDATE %s.messages SET locked_until = NULL WHERE id = $1`, schema),
		releaseStale: fmt.Sprintf(`
			UPDATE %s.messages
			SET locked_until = NULL
			WHERE locked_until IS NOT NULL AND locked_until < NOW()`, schema),
		count: fmt.Sprintf(`
			SELECT COUNT(*) FROM %s.messages
			WHERE topic = $1 AND status = $2`, schema),
		requeue: fmt.Sprintf(`
			UPDATE %s.messages
			SET status = 'pending',
			    redelivery_count = 0,
			    failed_at = NULL,
			    available_at = NOW()
			WHERE topic = $1 AND status = 'failed'`, schema),
	}
}

// validIdentifier reports whether s is safe to splice into SQL as a schema
// name: ASCII letters, digits and underscores, not starting with a digit.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Transport implements Publisher and Subscriber on top of a PostgreSQL
// message table.
type Transport struct {
	config Config
	logger watermill.LoggerAdapter

	db  *sql.DB
	sql statements

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New connects to the server, verifies the connection, and prepares the
// schema.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("postgres connection string is required")
	}

	cfg = cfg.normalized()
	if !validIdentifier(cfg.SchemaName) {
		return nil, fmt.Errorf("invalid schema name: %q", cfg.SchemaName)
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	t := &Transport{
		config: cfg,
		logger: logger,
		db:     db,
		sql:    renderStatements(cfg.SchemaName),
		done:   make(chan struct{}),
	}

	if err := t.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return t, nil
}

func (t *Transport) createSchema() error {
	// The uuid column is UNIQUE, so it carries its own index.
	ddl := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, t.config.SchemaName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.messages (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payload BYTEA NOT NULL,
			metadata JSONB DEFAULT '{}',
			redelivery_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			available_at TIMESTAMPTZ DEFAULT NOW(),
			locked_until TIMESTAMPTZ,
			failed_at TIMESTAMPTZ
		)`, t.config.SchemaName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_messages_claimable
			ON %s.messages (topic, status, available_at) WHERE status = 'pending'`, t.config.SchemaName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_messages_locked_until
			ON %s.messages (locked_until) WHERE locked_until IS NOT NULL`, t.config.SchemaName),
	}

	for _, stmt := range ddl {
		if _, err := t.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
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

	for _, msg := range messages {
		meta, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.Exec(t.sql.insert, msg.UUID, topic, msg.Payload, meta); err != nil {
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
		t.release(ctx, id)
		return
	case <-t.done:
		t.release(ctx, id)
		return
	}

	select {
	case <-msg.Acked():
		t.complete(ctx, id)
	case <-msg.Nacked():
		t.settle(ctx, id)
	case <-ctx.Done():
		t.release(ctx, id)
	case <-t.done:
		t.release(ctx, id)
	}
}

func (t *Transport) claim(ctx context.Context, topic string) (int64, *message.Message, bool) {
	now := time.Now().UTC()

	var (
		id      int64
		uuid    string
		payload []byte
		rawMeta []byte
	)
	err := t.db.QueryRowContext(ctx, t.sql.claim, now.Add(t.config.LockTimeout), topic, now).
		Scan(&id, &uuid, &payload, &rawMeta)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil, false
	case err != nil:
		t.logError("claim message", err)
		return 0, nil, false
	}

	msg := message.NewMessage(uuid, payload)
	if len(rawMeta) > 0 {
		if err := jsoncodec.Unmarshal(rawMeta, &msg.Metadata); err != nil {
			t.logError("decode metadata", err)
		}
	}
	return id, msg, true
}

func (t *Transport) complete(ctx context.Context, id int64) {
	if _, err := t.db.ExecContext(ctx, t.sql.complete, id); err != nil {
		t.logError("delete acked message", err)
	}
}

// settle requeues a rejected message with exponential backoff, or parks it
// as failed once the redelivery budget is spent.
func (t *Transport) settle(ctx context.Context, id int64) {
	if _, err := t.db.ExecContext(ctx, t.sql.settle, t.config.MaxRedeliveries, id); err != nil {
		t.logError("requeue nacked message", err)
	}
}

func (t *Transport) release(ctx context.Context, id int64) {
	if _, err := t.db.ExecContext(ctx, t.sql.release, id); err != nil {
		t.logError("release message lock", err)
	}
}

func (t *Transport) closedErr() error {
	select {
	case <-t.done:
		return fmt.Errorf("postgres transport is closed")
	default:
		return nil
	}
}

func (t *Transport) logError(msg string, err error) {
	if t.logger != nil {
		t.logger.Error(msg, err, nil)
	}
}

// Close stops all polling goroutines and closes the connection pool. Safe
// to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()
	return t.db.Close()
}

// GetCapabilities reports the backend's feature sheet.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.PostgresCapabilities
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
	err := t.db.QueryRow(t.sql.count, topic, status).Scan(&n)
	return n, err
}

// RequeueFailed returns failed messages for a topic to the pending state
// for another round of delivery attempts. Returns the number of messages
// requeued.
func (t *Transport) RequeueFailed(topic string) (int64, error) {
	res, err := t.db.Exec(t.sql.requeue, topic)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupExpiredLocks unlocks messages whose lock expired without an ack,
// making them claimable again. Returns the number of messages unlocked.
func (t *Transport) CleanupExpiredLocks() (int64, error) {
	res, err := t.db.Exec(t.sql.releaseStale)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
