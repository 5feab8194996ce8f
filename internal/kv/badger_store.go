package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/soaringjerry/Checkin/internal/log"
	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/soaringjerry/Checkin/internal/services"
)

const (
	prefixTemplate   = "tpl/"
	prefixTplOrder   = "tplord/"
	prefixAssignment = "asg/"
	prefixAnswers    = "ans/"
	prefixUser       = "user/"
	prefixAudit      = "audit/"

	// attempts for read-modify-write transactions that lose a badger conflict
	maxTxnAttempts = 5
)

// BadgerStore implements services.Store on BadgerDB. Read-modify-write
// operations run in update transactions; badger aborts the loser of two
// overlapping transactions with ErrConflict, which is retried.
type BadgerStore struct {
	db       *badger.DB
	gc       *gcRunner
	tplSeq   *badger.Sequence
	auditSeq *badger.Sequence
}

var _ services.Store = (*BadgerStore)(nil)

func Open(cfg Config) (*BadgerStore, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewBadgerStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio)
		s.gc.start()
	}
	return s, nil
}

func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	tplSeq, err := db.GetSequence([]byte("seq/tpl"), 100)
	if err != nil {
		return nil, fmt.Errorf("template sequence: %w", err)
	}
	auditSeq, err := db.GetSequence([]byte("seq/audit"), 100)
	if err != nil {
		_ = tplSeq.Release()
		return nil, fmt.Errorf("audit sequence: %w", err)
	}
	return &BadgerStore{db: db, tplSeq: tplSeq, auditSeq: auditSeq}, nil
}

func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	if err := s.tplSeq.Release(); err != nil {
		log.Warnf("badger store: release template sequence: %v", err)
	}
	if err := s.auditSeq.Release(); err != nil {
		log.Warnf("badger store: release audit sequence: %v", err)
	}
	return s.db.Close()
}

func getJSON(txn *badger.Txn, key string, dst any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return models.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// insertNew writes v under key unless the key already exists.
func insertNew(txn *badger.Txn, key string, v any) error {
	if _, err := txn.Get([]byte(key)); err == nil {
		return models.ErrConflict
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return setJSON(txn, key, v)
}

// update runs fn in a read-write transaction, retrying when badger reports a
// conflicting concurrent commit. Retries exhausted surface as ErrConflict.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return models.ErrConflict
}

func forEachPrefix(txn *badger.Txn, prefix string, fn func(key []byte, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return err
		}
	}
	return nil
}

// --- Templates ---

func (s *BadgerStore) InsertTemplate(ctx context.Context, t *models.Template) error {
	seq, err := s.tplSeq.Next()
	if err != nil {
		return fmt.Errorf("next template seq: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := insertNew(txn, prefixTemplate+t.ID, t); err != nil {
			return err
		}
		return txn.Set([]byte(fmt.Sprintf("%s%020d/%s", prefixTplOrder, seq, t.ID)), []byte{})
	})
}

func (s *BadgerStore) GetTemplate(_ context.Context, id string) (*models.Template, error) {
	var t models.Template
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixTemplate+id, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BadgerStore) ListTemplatesVisibleTo(_ context.Context, coachID string) ([]*models.Template, error) {
	out := []*models.Template{}
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachPrefix(txn, prefixTplOrder, func(key, _ []byte) error {
			id := string(key[strings.LastIndexByte(string(key), '/')+1:])
			var t models.Template
			if err := getJSON(txn, prefixTemplate+id, &t); err != nil {
				return fmt.Errorf("template %s: %w", id, err)
			}
			if t.Owner.VisibleTo(coachID) {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) UpdateTemplate(ctx context.Context, id string, fn func(t *models.Template) error) (*models.Template, error) {
	var updated *models.Template
	err := s.update(ctx, func(txn *badger.Txn) error {
		var cur models.Template
		if err := getJSON(txn, prefixTemplate+id, &cur); err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = cur.ID
		if err := setJSON(txn, prefixTemplate+id, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// --- Assignments ---

func (s *BadgerStore) InsertAssignment(ctx context.Context, a *models.Assignment) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return insertNew(txn, prefixAssignment+a.ID, a)
	})
}

func (s *BadgerStore) GetAssignment(_ context.Context, id string) (*models.Assignment, error) {
	var a models.Assignment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixAssignment+id, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BadgerStore) ListAssignmentsByTrainee(_ context.Context, traineeID string) ([]*models.Assignment, error) {
	return s.filterAssignments(func(a *models.Assignment) bool { return a.TraineeID == traineeID })
}

func (s *BadgerStore) ListAssignmentsByCoach(_ context.Context, coachID string) ([]*models.Assignment, error) {
	return s.filterAssignments(func(a *models.Assignment) bool { return a.CoachID == coachID })
}

func (s *BadgerStore) filterAssignments(keep func(*models.Assignment) bool) ([]*models.Assignment, error) {
	out := []*models.Assignment{}
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachPrefix(txn, prefixAssignment, func(_, val []byte) error {
			var a models.Assignment
			if err := json.Unmarshal(val, &a); err != nil {
				return err
			}
			if keep(&a) {
				out = append(out, &a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinalizeAnswers reads the assignment and writes both records in one
// transaction. A concurrent finalizer that commits first makes this one
// retry, and the retry sees the answered status.
func (s *BadgerStore) FinalizeAnswers(ctx context.Context, set *models.AnswerSet) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var a models.Assignment
		if err := getJSON(txn, prefixAssignment+set.AssignmentID, &a); err != nil {
			return err
		}
		if a.Status != models.StatusPending {
			return models.ErrConflict
		}
		at := set.SubmittedAt
		a.Status = models.StatusAnswered
		a.AnsweredAt = &at
		if err := setJSON(txn, prefixAssignment+a.ID, &a); err != nil {
			return err
		}
		return insertNew(txn, prefixAnswers+set.AssignmentID, set)
	})
}

func (s *BadgerStore) GetAnswerSet(_ context.Context, assignmentID string) (*models.AnswerSet, error) {
	var set models.AnswerSet
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixAnswers+assignmentID, &set)
	})
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// --- Audit ---

func (s *BadgerStore) AddAudit(ctx context.Context, e models.AuditEntry) {
	seq, err := s.auditSeq.Next()
	if err != nil {
		log.Errorf("badger store: AddAudit: %v", err)
		return
	}
	err = s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, fmt.Sprintf("%s%020d", prefixAudit, seq), e)
	})
	if err != nil {
		log.Errorf("badger store: AddAudit: %v", err)
	}
}

func (s *BadgerStore) ListAudit(_ context.Context, actor string) ([]models.AuditEntry, error) {
	out := []models.AuditEntry{}
	err := s.db.View(func(txn *badger.Txn) error {
		return forEachPrefix(txn, prefixAudit, func(_, val []byte) error {
			var e models.AuditEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			if actor == "" || e.Actor == actor {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Users ---

func (s *BadgerStore) AddUser(ctx context.Context, u *models.User) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return insertNew(txn, prefixUser+strings.ToLower(u.Email), u)
	})
}

func (s *BadgerStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, prefixUser+strings.ToLower(email), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}
