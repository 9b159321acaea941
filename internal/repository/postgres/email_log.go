package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ecortescl/ms-smtp/internal/model"
	"github.com/ecortescl/ms-smtp/internal/repository"
	"github.com/ecortescl/ms-smtp/pkg/clock"
	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
)

type emailLogRepository struct {
	BaseRepository
	clock *clock.Monotonic
}

func NewEmailLogRepository(base BaseRepository, clk clock.Clock) repository.EmailLogRepository {
	return &emailLogRepository{BaseRepository: base, clock: clock.NewMonotonic(clk)}
}

type emailLogRow struct {
	ID        string         `db:"id"`
	Timestamp time.Time      `db:"timestamp"`
	Status    string         `db:"status"`
	Recipient sql.NullString `db:"recipient"`
	Sender    sql.NullString `db:"sender"`
	Subject   sql.NullString `db:"subject"`
	Provider  sql.NullString `db:"provider"`
	Response  sql.NullString `db:"response"`
	Error     []byte         `db:"error"`
	Meta      model.JSONMap  `db:"meta"`
}

const emailLogColumns = `id, timestamp, status, recipient, sender, subject, provider, response, error, meta`

func (r *emailLogRepository) Append(ctx context.Context, entry *model.EmailLog) (*model.EmailLog, error) {
	rec := *entry
	rec.ID = uuid.NewString()
	rec.Timestamp = r.clock.Now()
	rec.Meta = entry.Meta.Clone()
	if rec.Provider == "" {
		rec.Provider = model.DefaultProvider
	}

	query := `
        INSERT INTO email_logs (` + emailLogColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `

	_, err := r.GetDB().ExecContext(ctx, query,
		rec.ID,
		rec.Timestamp,
		string(rec.Status),
		addressArg(rec.To),
		addressArg(rec.From),
		nullString(rec.Subject),
		rec.Provider,
		nullString(rec.Response),
		errorArg(rec.Error),
		rec.Meta,
	)
	if err != nil {
		return nil, apperrors.NewStorageUnavailable("append email log", err)
	}

	return &rec, nil
}

func (r *emailLogRepository) Query(ctx context.Context, filter model.LogFilter) (*model.LogPage, error) {
	baseQuery := `FROM email_logs WHERE 1=1`
	var conditions []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	if filter.To != "" {
		args = append(args, likePattern(filter.To))
		conditions = append(conditions, fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, addressText("recipient"), len(args)))
	}

	if filter.From != "" {
		args = append(args, likePattern(filter.From))
		conditions = append(conditions, fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, addressText("sender"), len(args)))
	}

	if filter.Contains != "" {
		args = append(args, likePattern(filter.Contains))
		conditions = append(conditions, fmt.Sprintf(
			`(COALESCE(subject, '') ILIKE $%[1]d ESCAPE '\' OR COALESCE(response, '') ILIKE $%[1]d ESCAPE '\')`,
			len(args),
		))
	}

	if filter.Start != nil {
		args = append(args, *filter.Start)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	if filter.End != nil {
		args = append(args, *filter.End)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	for _, condition := range conditions {
		baseQuery += " AND " + condition
	}

	countQuery := "SELECT COUNT(*) " + baseQuery

	query := "SELECT " + emailLogColumns + " " + baseQuery + " ORDER BY timestamp DESC, id DESC"
	pageArgs := append([]interface{}{}, args...)
	if filter.Limit > 0 {
		pageArgs = append(pageArgs, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(pageArgs))
	}
	pageArgs = append(pageArgs, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(pageArgs))

	var total int
	var rows []emailLogRow
	err := r.WithTx(ctx, readSnapshot, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &total, countQuery, args...); err != nil {
			return fmt.Errorf("failed to get total count: %w", err)
		}
		if err := tx.SelectContext(ctx, &rows, query, pageArgs...); err != nil {
			return fmt.Errorf("failed to list email logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageUnavailable("query email logs", err)
	}

	page := &model.LogPage{
		Total:  total,
		Offset: filter.Offset,
		Limit:  filter.Limit,
		Items:  make([]*model.EmailLog, 0, len(rows)),
	}
	for i := range rows {
		page.Items = append(page.Items, rows[i].toModel())
	}
	return page, nil
}

func (row *emailLogRow) toModel() *model.EmailLog {
	rec := &model.EmailLog{
		ID:        row.ID,
		Timestamp: row.Timestamp.UTC(),
		Status:    model.LogStatus(row.Status),
		To:        model.ParseAddressColumn(row.Recipient.String, row.Recipient.Valid),
		From:      model.ParseAddressColumn(row.Sender.String, row.Sender.Valid),
		Subject:   row.Subject.String,
		Provider:  row.Provider.String,
		Response:  row.Response.String,
		Meta:      row.Meta,
	}
	if rec.Provider == "" {
		rec.Provider = model.DefaultProvider
	}
	if len(row.Error) > 0 {
		var msg string
		if err := json.Unmarshal(row.Error, &msg); err == nil {
			rec.Error = msg
		} else {
			rec.Error = string(row.Error)
		}
	}
	return rec
}

// addressText renders an address column as its comma-joined text form so
// substring filters behave like the file backend.
func addressText(column string) string {
	return fmt.Sprintf(
		`(CASE WHEN LEFT(%[1]s, 1) = '[' THEN array_to_string(ARRAY(SELECT jsonb_array_elements_text(%[1]s::jsonb)), ',') ELSE COALESCE(%[1]s, '') END)`,
		column,
	)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func addressArg(a *model.AddressList) sql.NullString {
	s, ok := a.ColumnValue()
	return sql.NullString{String: s, Valid: ok}
}

func errorArg(msg string) interface{} {
	if msg == "" {
		return nil
	}
	b, _ := json.Marshal(msg)
	return string(b)
}
