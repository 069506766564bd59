package gateway

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/questboard/realtime"
)

// Store implements Gateway on top of gorm.
type Store struct {
	db    *gorm.DB
	bus   realtime.Bus
	log   *zap.Logger
	rules Rules
}

var _ Gateway = (*Store)(nil)

// NewStore wires a gorm handle and a change bus. A nil bus disables
// notifications; a nil logger discards logs.
func NewStore(db *gorm.DB, bus realtime.Bus, log *zap.Logger, rules Rules) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, bus: bus, log: log, rules: rules.normalized()}
}

// Rules returns the economics in effect.
func (s *Store) Rules() Rules { return s.rules }

type emitter func(realtime.Change)

// transact runs fn in a transaction and publishes what it emitted once the
// transaction has committed. Nothing is published on rollback.
func (s *Store) transact(ctx context.Context, fn func(tx *gorm.DB, emit emitter) error) error {
	var pending []realtime.Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, func(c realtime.Change) { pending = append(pending, c) })
	})
	if err != nil {
		return err
	}
	s.publish(ctx, pending...)
	return nil
}

func (s *Store) publish(ctx context.Context, changes ...realtime.Change) {
	if s.bus == nil {
		return
	}
	for _, c := range changes {
		if err := s.bus.Publish(ctx, c); err != nil {
			s.log.Warn("publish change failed", zap.String("table", c.Table), zap.String("event", c.Event), zap.Error(err))
		}
	}
}

// locked adds SELECT ... FOR UPDATE where the dialect supports row locks.
func locked(tx *gorm.DB) *gorm.DB {
	if strings.HasPrefix(tx.Dialector.Name(), "sqlite") {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func notFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

func profileChanged(userID string) realtime.Change {
	return realtime.NewChange("profiles", realtime.EventUpdate, "user_id", userID)
}

func userRowInserted(table, userID string) realtime.Change {
	return realtime.NewChange(table, realtime.EventInsert, "user_id", userID)
}
