package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver registration.
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"news_bot/internal/model"
	"news_bot/migrations"
)

const (
	timeLayout = "2006-01-02T15:04:05Z"
	dateLayout = "2006-01-02"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements Storage on top of database/sql. SQLite and PostgreSQL
// share every statement; only the placeholder format differs.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// Open opens the database for driver and runs pending migrations.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db, DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

// NewPostgres connects to PostgreSQL at dsn and runs pending migrations.
func NewPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrations.Run(db, DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}, nil
}

// DB exposes the underlying handle for maintenance tasks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scannable interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
			return true
		}
		return false
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// --- items ---

var itemColumns = []string{"id", "external_id", "title", "source_link", "body", "published_date", "created_at"}

// GetItemByExternalID returns the item with the given source id.
func (s *SQLStore) GetItemByExternalID(ctx context.Context, externalID int64) (*model.Item, error) {
	return s.getItem(ctx, sq.Eq{"external_id": externalID})
}

// GetItem returns the item with the given surrogate id.
func (s *SQLStore) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return s.getItem(ctx, sq.Eq{"id": id})
}

func (s *SQLStore) getItem(ctx context.Context, where sq.Eq) (*model.Item, error) {
	query, args, err := s.sb.Select(itemColumns...).From("items").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	it, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// InsertItem stores a new item and populates its ID and CreatedAt.
func (s *SQLStore) InsertItem(ctx context.Context, item *model.Item) error {
	created := now()
	query, args, err := s.sb.Insert("items").
		Columns("external_id", "title", "source_link", "body", "published_date", "created_at").
		Values(item.ExternalID, item.Title, item.SourceLink, item.Body, item.PublishedDate.Format(dateLayout), created).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert item: %w", err)
	}
	item.ID = id
	item.CreatedAt = parseTime(created)
	return nil
}

// ListItems returns all items ordered by id.
func (s *SQLStore) ListItems(ctx context.Context) ([]model.Item, error) {
	query, args, err := s.sb.Select(itemColumns...).From("items").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func scanItem(row scannable) (*model.Item, error) {
	var it model.Item
	var published, created string
	err := row.Scan(&it.ID, &it.ExternalID, &it.Title, &it.SourceLink, &it.Body, &published, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.PublishedDate, _ = time.Parse(dateLayout, published)
	it.CreatedAt = parseTime(created)
	return &it, nil
}

// --- subscribers ---

var subscriberColumns = []string{"recipient_id", "address", "latitude", "longitude", "address_pending", "created_at"}

// GetSubscriber returns the subscriber with its category set.
func (s *SQLStore) GetSubscriber(ctx context.Context, recipientID int64) (*model.Subscriber, error) {
	subs, err := s.listSubscribers(ctx, sq.Eq{"recipient_id": recipientID})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	return &subs[0], nil
}

// ListSubscribers returns every subscriber ordered by recipient id.
func (s *SQLStore) ListSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	return s.listSubscribers(ctx, nil)
}

// ListSubscribersByCategory returns subscribers wanting category c.
func (s *SQLStore) ListSubscribersByCategory(ctx context.Context, c model.Category) ([]model.Subscriber, error) {
	return s.listSubscribers(ctx, sq.Expr(
		"EXISTS (SELECT 1 FROM subscriber_categories c WHERE c.recipient_id = subscribers.recipient_id AND c.category IN (?, ?))",
		string(c), string(model.CategoryAll),
	))
}

func (s *SQLStore) listSubscribers(ctx context.Context, where sq.Sqlizer) ([]model.Subscriber, error) {
	b := s.sb.Select(subscriberColumns...).From("subscribers").OrderBy("recipient_id")
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		subs = append(subs, sub)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	// Categories are loaded after the subscriber rows are closed; SQLite
	// runs on a single connection.
	ids := make([]int64, len(subs))
	for i := range subs {
		ids[i] = subs[i].RecipientID
	}
	cats, err := s.loadCategories(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].Categories = cats[subs[i].RecipientID]
	}
	return subs, nil
}

func (s *SQLStore) loadCategories(ctx context.Context, q querier, ids []int64) (map[int64][]model.Category, error) {
	query, args, err := s.sb.Select("recipient_id", "category").
		From("subscriber_categories").
		Where(sq.Eq{"recipient_id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64][]model.Category)
	for rows.Next() {
		var id int64
		var c string
		if err := rows.Scan(&id, &c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out[id] = append(out[id], model.Category(c))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	for id := range out {
		slices.SortFunc(out[id], func(a, b model.Category) int { return categoryRank(a) - categoryRank(b) })
	}
	return out, nil
}

// categoryRank orders categories as in model.Categories, with the all
// sentinel last.
func categoryRank(c model.Category) int {
	if i := slices.Index(model.Categories, c); i >= 0 {
		return i
	}
	return len(model.Categories)
}

// SaveSubscriber upserts the subscriber row and replaces its category set
// in one transaction.
func (s *SQLStore) SaveSubscriber(ctx context.Context, sub *model.Subscriber) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = parseTime(now())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := s.sb.Insert("subscribers").
		Columns(subscriberColumns...).
		Values(sub.RecipientID, sub.Address, nullFloat(sub.Latitude), nullFloat(sub.Longitude), boolToInt(sub.AddressPending), sub.CreatedAt.UTC().Format(timeLayout)).
		Suffix(`ON CONFLICT (recipient_id) DO UPDATE SET
			address = excluded.address,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			address_pending = excluded.address_pending`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}

	query, args, err = s.sb.Delete("subscriber_categories").Where(sq.Eq{"recipient_id": sub.RecipientID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}

	if len(sub.Categories) > 0 {
		ins := s.sb.Insert("subscriber_categories").Columns("recipient_id", "category")
		seen := make(map[model.Category]bool)
		for _, c := range sub.Categories {
			if seen[c] {
				continue
			}
			seen[c] = true
			ins = ins.Values(sub.RecipientID, string(c))
		}
		query, args, err = ins.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert categories: %w", err)
		}
	}

	return tx.Commit()
}

func scanSubscriber(row scannable) (model.Subscriber, error) {
	var sub model.Subscriber
	var lat, lon sql.NullFloat64
	var pending int
	var created string
	if err := row.Scan(&sub.RecipientID, &sub.Address, &lat, &lon, &pending, &created); err != nil {
		return sub, fmt.Errorf("scan subscriber: %w", err)
	}
	if lat.Valid {
		sub.Latitude = &lat.Float64
	}
	if lon.Valid {
		sub.Longitude = &lon.Float64
	}
	sub.AddressPending = pending == 1
	sub.CreatedAt = parseTime(created)
	return sub, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- reactions ---

// GetReaction returns the reaction of recipientID to itemID.
func (s *SQLStore) GetReaction(ctx context.Context, itemID, recipientID int64) (*model.Reaction, error) {
	query, args, err := s.sb.Select("item_id", "recipient_id", "kind", "created_at").
		From("reactions").
		Where(sq.Eq{"item_id": itemID, "recipient_id": recipientID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	r, err := scanReaction(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertReaction creates the reaction or replaces its kind.
func (s *SQLStore) UpsertReaction(ctx context.Context, r *model.Reaction) error {
	created := now()
	query, args, err := s.sb.Insert("reactions").
		Columns("item_id", "recipient_id", "kind", "created_at").
		Values(r.ItemID, r.RecipientID, string(r.Kind), created).
		Suffix("ON CONFLICT (item_id, recipient_id) DO UPDATE SET kind = excluded.kind, created_at = excluded.created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	r.CreatedAt = parseTime(created)
	return nil
}

// DeleteReaction removes the reaction if present.
func (s *SQLStore) DeleteReaction(ctx context.Context, itemID, recipientID int64) error {
	query, args, err := s.sb.Delete("reactions").
		Where(sq.Eq{"item_id": itemID, "recipient_id": recipientID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	return nil
}

// CountReactions returns the number of reactions per kind for itemID. Kinds
// without reactions are absent from the map.
func (s *SQLStore) CountReactions(ctx context.Context, itemID int64) (map[model.ReactionKind]int, error) {
	query, args, err := s.sb.Select("kind", "COUNT(*)").
		From("reactions").
		Where(sq.Eq{"item_id": itemID}).
		GroupBy("kind").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count reactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.ReactionKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.ReactionKind(kind)] = n
	}
	return counts, rows.Err()
}

// ListReactions returns every reaction ordered by item and recipient.
func (s *SQLStore) ListReactions(ctx context.Context) ([]model.Reaction, error) {
	query, args, err := s.sb.Select("item_id", "recipient_id", "kind", "created_at").
		From("reactions").
		OrderBy("item_id", "recipient_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Reaction
	for rows.Next() {
		r, err := scanReaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReaction(row scannable) (model.Reaction, error) {
	var r model.Reaction
	var kind, created string
	if err := row.Scan(&r.ItemID, &r.RecipientID, &kind, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan reaction: %w", err)
	}
	r.Kind = model.ReactionKind(kind)
	r.CreatedAt = parseTime(created)
	return r, nil
}
