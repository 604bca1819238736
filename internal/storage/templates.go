package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/claude/splits/internal/models"
)

var templateColumns = []string{"id", "name", "items", "created_at", "updated_at"}

// CreateTemplate stores a new template and returns it with its ID and
// timestamps filled in.
func (db *DB) CreateTemplate(ctx context.Context, name string, items []models.TemplateItem) (models.Template, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	t := models.Template{
		ID:        uuid.New(),
		Name:      name,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
	raw, err := json.Marshal(t.Items)
	if err != nil {
		return models.Template{}, fmt.Errorf("encoding template items: %w", err)
	}

	query, args, err := qb.Insert("templates").
		Columns(templateColumns...).
		Values(t.ID.String(), t.Name, string(raw), now.UnixMilli(), now.UnixMilli()).
		ToSql()
	if err != nil {
		return models.Template{}, fmt.Errorf("building template insert: %w", err)
	}
	if _, err := db.Conn.ExecContext(ctx, query, args...); err != nil {
		return models.Template{}, fmt.Errorf("inserting template: %w", err)
	}
	return t, nil
}

// GetTemplate returns one template or ErrNotFound.
func (db *DB) GetTemplate(ctx context.Context, id uuid.UUID) (models.Template, error) {
	query, args, err := qb.Select(templateColumns...).From("templates").
		Where("id = ?", id.String()).
		ToSql()
	if err != nil {
		return models.Template{}, fmt.Errorf("building template query: %w", err)
	}

	t, err := scanTemplate(db.Conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Template{}, ErrNotFound
	}
	if err != nil {
		return models.Template{}, fmt.Errorf("querying template %s: %w", id, err)
	}
	return t, nil
}

// ListTemplates returns all templates, most recently updated first.
func (db *DB) ListTemplates(ctx context.Context) ([]models.Template, error) {
	query, args, err := qb.Select(templateColumns...).From("templates").
		OrderBy("updated_at DESC", "name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building template query: %w", err)
	}

	rows, err := db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	result := []models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// UpdateTemplate replaces a template's name and items.
func (db *DB) UpdateTemplate(ctx context.Context, id uuid.UUID, name string, items []models.TemplateItem) (models.Template, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return models.Template{}, fmt.Errorf("encoding template items: %w", err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)

	query, args, err := qb.Update("templates").
		Set("name", name).
		Set("items", string(raw)).
		Set("updated_at", now.UnixMilli()).
		Where("id = ?", id.String()).
		ToSql()
	if err != nil {
		return models.Template{}, fmt.Errorf("building template update: %w", err)
	}

	res, err := db.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Template{}, fmt.Errorf("updating template %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Template{}, ErrNotFound
	}
	return db.GetTemplate(ctx, id)
}

// DeleteTemplate removes a template.
func (db *DB) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	query, args, err := qb.Delete("templates").Where("id = ?", id.String()).ToSql()
	if err != nil {
		return fmt.Errorf("building template delete: %w", err)
	}
	res, err := db.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting template %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (models.Template, error) {
	var (
		t                  models.Template
		id, items          string
		created, updatedMs int64
	)
	if err := row.Scan(&id, &t.Name, &items, &created, &updatedMs); err != nil {
		return models.Template{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return models.Template{}, fmt.Errorf("parsing template id %q: %w", id, err)
	}
	t.ID = parsed
	if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
		return models.Template{}, fmt.Errorf("decoding template items: %w", err)
	}
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return t, nil
}
