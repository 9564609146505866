package sender

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/sirupsen/logrus"
)

// OutboxSender 把信封写入 PostgreSQL 发件箱表，由平台侧的转发进程读取。
// (series, sequence) 唯一，重复写入被忽略。
type OutboxSender struct {
	db     *sql.DB
	table  string
	logger logrus.FieldLogger
}

// OpenOutbox 打开数据库连接并确保发件箱表存在。
func OpenOutbox(ctx context.Context, dsn, table string, logger logrus.FieldLogger) (*OutboxSender, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := NewOutboxSender(db, table, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewOutboxSender 使用已有连接创建发件箱发送器。
func NewOutboxSender(db *sql.DB, table string, logger logrus.FieldLogger) *OutboxSender {
	if table == "" {
		table = "process_events"
	}
	return &OutboxSender{db: db, table: table, logger: logger}
}

// Name 返回发送器名称。
func (s *OutboxSender) Name() string {
	return NameOutbox
}

// EnsureSchema 创建发件箱表（已存在则跳过）。
func (s *OutboxSender) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createOutboxSQL(s.table)); err != nil {
		return fmt.Errorf("failed to create outbox table: %w", err)
	}
	return nil
}

func createOutboxSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	series TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	phase TEXT NOT NULL,
	large BOOLEAN NOT NULL DEFAULT FALSE,
	event JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (series, sequence)
)`, pq.QuoteIdentifier(table))
}

func insertOutboxSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (series, sequence, phase, large, event)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (series, sequence) DO NOTHING`, pq.QuoteIdentifier(table))
}

// Send 插入一行发件箱记录。
func (s *OutboxSender) Send(ctx context.Context, ev *domain.ProcessEvent, _ domain.SendOptions) error {
	return traced(ctx, NameOutbox, ev, func(ctx context.Context) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}

		res, err := s.db.ExecContext(ctx, insertOutboxSQL(s.table),
			ev.Series(), ev.Sequence(), string(ev.Phase()), ev.IsLargeCommand(), data)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return fmt.Errorf("outbox insert failed (%s): %w", pqErr.Code.Name(), err)
			}
			return fmt.Errorf("outbox insert failed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.WithFields(logrus.Fields{
				"series":   ev.Series(),
				"sequence": ev.Sequence(),
			}).Debug("Duplicate process event ignored by outbox")
		}
		return nil
	})
}

// Close 关闭数据库连接。
func (s *OutboxSender) Close() error {
	return s.db.Close()
}
