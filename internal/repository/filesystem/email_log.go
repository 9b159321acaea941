package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
	"github.com/ecortescl/ms-smtp/pkg/clock"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
	"github.com/ecortescl/ms-smtp/pkg/logger"
)

// EmailLogRepository keeps the event log as one JSON document per line.
type EmailLogRepository struct {
	path  string
	clock *clock.Monotonic
	log   *logger.Logger

	// mu serializes appends and keeps readers off half-written lines.
	mu sync.RWMutex
}

var _ repository.EmailLogRepository = (*EmailLogRepository)(nil)

func NewEmailLogRepository(dir, fileName string, clk clock.Clock, log *logger.Logger) (*EmailLogRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &EmailLogRepository{
		path:  filepath.Join(dir, fileName),
		clock: clock.NewMonotonic(clk),
		log:   log.WithComponent("email_log_file"),
	}, nil
}

func (r *EmailLogRepository) Path() string {
	return r.path
}

func (r *EmailLogRepository) Append(ctx context.Context, entry *model.EmailLog) (*model.EmailLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := *entry
	rec.ID = uuid.NewString()
	rec.Meta = entry.Meta.Clone()
	if rec.Provider == "" {
		rec.Provider = model.DefaultProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Stamped inside the lock so file order matches timestamp order.
	rec.Timestamp = r.clock.Now()

	line, err := json.Marshal(&rec)
	if err != nil {
		return nil, apperrors.NewBadRequest("email log entry is not serializable", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperrors.NewStorageUnavailable("open email log", err)
	}
	// One write call per record: O_APPEND keeps concurrent writers from
	// other processes from interleaving inside a line.
	if _, err := f.Write(line); err != nil {
		f.Close()
		return nil, apperrors.NewStorageUnavailable("append email log", err)
	}
	if err := f.Close(); err != nil {
		return nil, apperrors.NewStorageUnavailable("append email log", err)
	}

	return &rec, nil
}

func (r *EmailLogRepository) Query(ctx context.Context, filter model.LogFilter) (*model.LogPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	data, err := os.ReadFile(r.path)
	r.mu.RUnlock()

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Paginate(nil, filter), nil
		}
		return nil, apperrors.NewStorageUnavailable("read email log", err)
	}

	return model.Paginate(r.decode(data), filter), nil
}

func (r *EmailLogRepository) decode(data []byte) []*model.EmailLog {
	lines := bytes.Split(data, []byte("\n"))
	// The last element is empty for a well-formed file. Anything else is
	// a line still being written by another process.
	lines = lines[:len(lines)-1]

	records := make([]*model.EmailLog, 0, len(lines))
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec model.EmailLog
		if err := json.Unmarshal(line, &rec); err != nil {
			r.log.Warn().Err(err).Int("line", i+1).Str("path", r.path).Msg("skipping unreadable email log line")
			continue
		}
		records = append(records, &rec)
	}
	return records
}
