package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/lib/pq"

	"github.com/codragon2020/prompt-manager/core"
)

// Supported database/sql driver names.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// PostgresConfig configures OpenPostgres.
type PostgresConfig struct {
	DSN             string
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection and optionally migrates the
// schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres store: empty connection string")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPQ
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	s := NewPostgresStore(db)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Update runs fn in a READ COMMITTED transaction. LockPrompt takes a row lock
// on the prompt for the rest of the transaction.
func (s *PostgresStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, false, fn)
}

// View runs fn in a REPEATABLE READ, READ ONLY transaction.
func (s *PostgresStore) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, true, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts *sql.TxOptions, readOnly bool, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()
	if err := fn(ctx, &pgTx{tx: sqlTx, readOnly: readOnly}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapErr(err))
	}
	return nil
}

type pgTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *pgTx) LockPrompt(ctx context.Context, promptID string) error {
	if t.readOnly {
		return nil
	}
	var id string
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM prompts WHERE id = $1 FOR UPDATE`, promptID).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lock prompt %s: %w", promptID, err)
	}
	return nil
}

const promptColumns = `p.id, p.name, p.description, p.owner_team, p.status, p.deleted_at, p.created_at, p.updated_at`

func scanPrompt(row interface{ Scan(...any) error }) (*core.Prompt, error) {
	var p core.Prompt
	var status string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerTeam, &status, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = core.Status(status)
	return &p, nil
}

func (t *pgTx) GetPrompt(ctx context.Context, id string, includeDeleted bool) (*core.Prompt, error) {
	q := `SELECT ` + promptColumns + ` FROM prompts p WHERE p.id = $1`
	if !includeDeleted {
		q += ` AND p.deleted_at IS NULL`
	}
	p, err := scanPrompt(t.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, mapErr(err)
	}
	tags, err := t.tagsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p.Tags = tags[id]
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func (t *pgTx) tagsFor(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT pt.prompt_id, t.name FROM prompt_tags pt
		JOIN tags t ON t.id = pt.tag_id
		WHERE pt.prompt_id = ANY($1::text[])
		ORDER BY t.name`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

func (t *pgTx) ListPrompts(ctx context.Context, filter Filter) ([]*core.Prompt, int, error) {
	where := []string{"p.deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		n := arg("%" + escapeLike(q) + "%")
		where = append(where, fmt.Sprintf(`(p.name ILIKE %[1]s OR p.description ILIKE %[1]s OR EXISTS (
			SELECT 1 FROM prompt_versions v WHERE v.prompt_id = p.id AND v.content ILIKE %[1]s))`, n))
	}
	if tag := core.NormalizeTag(filter.Tag); tag != "" {
		where = append(where, fmt.Sprintf(`EXISTS (SELECT 1 FROM prompt_tags pt JOIN tags t ON t.id = pt.tag_id
			WHERE pt.prompt_id = p.id AND t.name = %s)`, arg(tag)))
	}
	if filter.Env != "" {
		where = append(where, fmt.Sprintf(`EXISTS (SELECT 1 FROM prompt_publications pub JOIN environments e ON e.id = pub.environment_id
			WHERE pub.prompt_id = p.id AND e.key = %s)`, arg(filter.Env)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT count(*) FROM prompts p WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prompts: %w", err)
	}

	col := "p.updated_at"
	if filter.Sort == SortCreatedAt {
		col = "p.created_at"
	}
	dir := "ASC"
	if filter.Descending {
		dir = "DESC"
	}
	q := `SELECT ` + promptColumns + ` FROM prompts p WHERE ` + cond + ` ORDER BY ` + col + ` ` + dir + `, p.id`
	if filter.Limit > 0 {
		q += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		q += ` OFFSET ` + arg(filter.Offset)
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()
	var out []*core.Prompt
	var ids []string
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()
	tags, err := t.tagsFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range out {
		p.Tags = tags[p.ID]
		if p.Tags == nil {
			p.Tags = []string{}
		}
	}
	if out == nil {
		out = []*core.Prompt{}
	}
	return out, total, nil
}

func (t *pgTx) CreatePrompt(ctx context.Context, p *core.Prompt) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO prompts (id, name, description, owner_team, status, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Description, p.OwnerTeam, string(p.Status), p.DeletedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create prompt %s: %w", p.ID, mapErr(err))
	}
	return nil
}

func (t *pgTx) UpdatePrompt(ctx context.Context, p *core.Prompt) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE prompts SET name = $2, description = $3, owner_team = $4, status = $5, deleted_at = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.OwnerTeam, string(p.Status), p.DeletedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update prompt %s: %w", p.ID, mapErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoRows
	}
	return nil
}

func (t *pgTx) SetPromptTags(ctx context.Context, promptID string, names []string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM prompt_tags WHERE prompt_id = $1`, promptID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, name := range core.NormalizeTags(names) {
		var tagID string
		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO tags (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, uuid.NewString(), name).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("upsert tag %q: %w", name, err)
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO prompt_tags (prompt_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, promptID, tagID); err != nil {
			return fmt.Errorf("tag prompt %s: %w", promptID, mapErr(err))
		}
	}
	return nil
}

func (t *pgTx) MaxVersion(ctx context.Context, promptID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM prompt_versions WHERE prompt_id = $1`, promptID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max version: %w", err)
	}
	return n, nil
}

func (t *pgTx) VersionNumbers(ctx context.Context, promptID string) ([]int, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT version FROM prompt_versions WHERE prompt_id = $1 ORDER BY version`, promptID)
	if err != nil {
		return nil, fmt.Errorf("version numbers: %w", err)
	}
	defer rows.Close()
	out := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const versionColumns = `v.id, v.prompt_id, v.version, v.content, v.model_name, v.temperature, v.max_tokens, v.top_p, v.notes, v.created_by, v.created_at`

func scanVersion(row interface{ Scan(...any) error }) (*core.Version, error) {
	var v core.Version
	err := row.Scan(&v.ID, &v.PromptID, &v.Version, &v.Content,
		&v.ModelName, &v.Temperature, &v.MaxTokens, &v.TopP, &v.Notes, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Variables = []core.Variable{}
	return &v, nil
}

func (t *pgTx) GetVersion(ctx context.Context, promptID, versionID string) (*core.Version, error) {
	return t.oneVersion(ctx, `v.prompt_id = $1 AND v.id = $2`, promptID, versionID)
}

func (t *pgTx) GetVersionByNumber(ctx context.Context, promptID string, number int) (*core.Version, error) {
	return t.oneVersion(ctx, `v.prompt_id = $1 AND v.version = $2`, promptID, number)
}

func (t *pgTx) oneVersion(ctx context.Context, cond string, args ...any) (*core.Version, error) {
	v, err := scanVersion(t.tx.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM prompt_versions v WHERE `+cond, args...))
	if err != nil {
		return nil, mapErr(err)
	}
	vars, err := t.variables(ctx, `pv.version_id = $1`, v.ID)
	if err != nil {
		return nil, err
	}
	if vs, ok := vars[v.ID]; ok {
		v.Variables = vs
	}
	return v, nil
}

func (t *pgTx) ListVersions(ctx context.Context, promptID string) ([]*core.Version, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+versionColumns+` FROM prompt_versions v WHERE v.prompt_id = $1 ORDER BY v.version`, promptID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	out := []*core.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	vars, err := t.variables(ctx, `pv.version_id IN (SELECT id FROM prompt_versions WHERE prompt_id = $1)`, promptID)
	if err != nil {
		return nil, err
	}
	for _, v := range out {
		if vs, ok := vars[v.ID]; ok {
			v.Variables = vs
		}
	}
	return out, nil
}

func (t *pgTx) variables(ctx context.Context, cond string, args ...any) (map[string][]core.Variable, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT pv.version_id, pv.name, pv.type, pv.required, pv.default_value
		FROM prompt_variables pv WHERE `+cond+` ORDER BY pv.version_id, pv.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("load variables: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]core.Variable)
	for rows.Next() {
		var versionID, typ string
		var v core.Variable
		if err := rows.Scan(&versionID, &v.Name, &typ, &v.Required, &v.DefaultValue); err != nil {
			return nil, err
		}
		v.Type = core.VariableType(typ)
		out[versionID] = append(out[versionID], v)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateVersion(ctx context.Context, v *core.Version) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO prompt_versions (id, prompt_id, version, content, model_name, temperature, max_tokens, top_p, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.PromptID, v.Version, v.Content, v.ModelName, v.Temperature, v.MaxTokens, v.TopP, v.Notes, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create version %d of prompt %s: %w", v.Version, v.PromptID, mapErr(err))
	}
	for i, vv := range v.Variables {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO prompt_variables (version_id, position, name, type, required, default_value)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			v.ID, i, vv.Name, string(vv.Type), vv.Required, vv.DefaultValue)
		if err != nil {
			return fmt.Errorf("create variable %q: %w", vv.Name, mapErr(err))
		}
	}
	return nil
}

func (t *pgTx) GetEnvironment(ctx context.Context, key string) (*core.Environment, error) {
	var env core.Environment
	err := t.tx.QueryRowContext(ctx, `SELECT id, key, name FROM environments WHERE key = $1`, key).Scan(&env.ID, &env.Key, &env.Name)
	if err != nil {
		return nil, mapErr(err)
	}
	return &env, nil
}

func (t *pgTx) ListEnvironments(ctx context.Context) ([]*core.Environment, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, key, name FROM environments ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()
	out := []*core.Environment{}
	for rows.Next() {
		var env core.Environment
		if err := rows.Scan(&env.ID, &env.Key, &env.Name); err != nil {
			return nil, err
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}

func (t *pgTx) UpsertEnvironment(ctx context.Context, env *core.Environment) error {
	id := env.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO environments (id, key, name) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, id, env.Key, env.Name).Scan(&env.ID)
	if err != nil {
		return fmt.Errorf("upsert environment %s: %w", env.Key, mapErr(err))
	}
	return nil
}

func (t *pgTx) CreatePublication(ctx context.Context, p *core.Publication) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO prompt_publications (id, prompt_id, environment_id, prompt_version_id, published_by, published_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`,
		p.ID, p.PromptID, p.EnvironmentID, p.PromptVersionID, p.PublishedBy, p.PublishedAt, p.Notes).Scan(&p.Seq)
	if err != nil {
		return fmt.Errorf("create publication: %w", mapErr(err))
	}
	return nil
}

const publicationQuery = `
	SELECT pub.id, pub.seq, pub.prompt_id, pub.environment_id, e.key, pub.prompt_version_id, pub.published_by, pub.published_at, pub.notes
	FROM prompt_publications pub JOIN environments e ON e.id = pub.environment_id`

func scanPublication(row interface{ Scan(...any) error }) (*core.Publication, error) {
	var p core.Publication
	err := row.Scan(&p.ID, &p.Seq, &p.PromptID, &p.EnvironmentID, &p.EnvironmentKey,
		&p.PromptVersionID, &p.PublishedBy, &p.PublishedAt, &p.Notes)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) LatestPublication(ctx context.Context, promptID, environmentID string) (*core.Publication, error) {
	p, err := scanPublication(t.tx.QueryRowContext(ctx, publicationQuery+`
		WHERE pub.prompt_id = $1 AND pub.environment_id = $2
		ORDER BY pub.published_at DESC, pub.seq DESC
		LIMIT 1`, promptID, environmentID))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (t *pgTx) ListPublications(ctx context.Context, promptID, environmentID string) ([]*core.Publication, error) {
	q := publicationQuery + ` WHERE pub.prompt_id = $1`
	args := []any{promptID}
	if environmentID != "" {
		q += ` AND pub.environment_id = $2`
		args = append(args, environmentID)
	}
	rows, err := t.tx.QueryContext(ctx, q+` ORDER BY pub.published_at, pub.seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()
	var out []*core.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PostgreSQL SQLSTATE codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// mapErr translates driver errors into registry sentinels. Both lib/pq and
// pgx error types are recognized.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	var code string
	var pqErr *pq.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	case errors.As(err, &pgErr):
		code = pgErr.Code
	}
	switch code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %v", ErrNoRows, err)
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
