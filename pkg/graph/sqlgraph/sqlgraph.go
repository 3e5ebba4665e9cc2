// Package sqlgraph stores a host graph in SQLite, PostgreSQL or MySQL.
package sqlgraph

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/DrSkyle/grandiso/pkg/graph"
)

//go:embed migrations/*
var migrations embed.FS

// Dialect names a supported SQL engine.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

const scanPageSize = 500

func (d Dialect) driver() (string, error) {
	switch d {
	case SQLite:
		return "sqlite", nil
	case Postgres:
		return "pgx", nil
	case MySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported SQL dialect %q", d)
	}
}

// Store is a graph.HostGraph and graph.Writer backed by database/sql.
type Store struct {
	db      *sql.DB
	sb      sq.StatementBuilderType
	dialect Dialect
}

var (
	_ graph.HostGraph = (*Store)(nil)
	_ graph.Writer    = (*Store)(nil)
)

// PrepareDSN sets WAL journaling, a busy timeout and immediate transactions
// on a SQLite DSN unless the caller already chose them.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}
		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}
	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(5000)")
	}
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}
	return uri + "?" + query.Encode(), nil
}

// Open connects to dsn, retrying the initial ping until timeout.
func Open(ctx context.Context, dialect Dialect, dsn string, timeout time.Duration) (*Store, error) {
	driver, err := dialect.driver()
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		if dsn, err = PrepareDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("initialize %s connection: %w", dialect, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", dialect, err)
	}

	sb := sq.StatementBuilder.RunWith(db)
	if dialect == Postgres {
		sb = sb.PlaceholderFormat(sq.Dollar)
	}
	return &Store{db: db, sb: sb, dialect: dialect}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(string(s.dialect)); err != nil {
		return fmt.Errorf("failed to set %s dialect: %w", s.dialect, err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations/"+string(s.dialect)); err != nil {
		return fmt.Errorf("migrate host graph schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) NodeExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.sb.Select("1").From("nodes").Where(sq.Eq{"id": id}).Limit(1).
		QueryRowContext(ctx).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("node exists %s: %w", id, err)
	}
	return true, nil
}

func (s *Store) NodeAttributes(ctx context.Context, id string) (map[string]string, error) {
	ok, err := s.NodeExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, graph.ErrNodeNotFound
	}

	attrs, err := s.attributes(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if a := attrs[id]; a != nil {
		return a, nil
	}
	return map[string]string{}, nil
}

// attributes loads the attribute maps of ids in one query.
func (s *Store) attributes(ctx context.Context, ids []string) (map[string]map[string]string, error) {
	rows, err := s.sb.Select("node_id", "attr_key", "attr_value").
		From("node_attributes").
		Where(sq.Eq{"node_id": ids}).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query node attributes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]string, len(ids))
	for rows.Next() {
		var id, k, v string
		if err := rows.Scan(&id, &k, &v); err != nil {
			return nil, fmt.Errorf("scan node attribute: %w", err)
		}
		if out[id] == nil {
			out[id] = make(map[string]string)
		}
		out[id][k] = v
	}
	return out, rows.Err()
}

func (s *Store) Neighbors(ctx context.Context, id string, dir graph.Direction) ([]graph.Neighbor, error) {
	var res []graph.Neighbor
	if dir == graph.Out || dir == graph.Both {
		ns, err := s.edges(ctx, "target", "source", id)
		if err != nil {
			return nil, err
		}
		res = append(res, ns...)
	}
	if dir == graph.In || dir == graph.Both {
		ns, err := s.edges(ctx, "source", "target", id)
		if err != nil {
			return nil, err
		}
		res = append(res, ns...)
	}
	return res, nil
}

func (s *Store) edges(ctx context.Context, selectCol, whereCol, id string) ([]graph.Neighbor, error) {
	rows, err := s.sb.Select(selectCol, "attributes").
		From("edges").
		Where(sq.Eq{whereCol: id}).
		OrderBy("id").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query edges of %s: %w", id, err)
	}
	defer rows.Close()

	var out []graph.Neighbor
	for rows.Next() {
		var other, raw string
		if err := rows.Scan(&other, &raw); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		attrs, err := decodeAttrs(raw)
		if err != nil {
			return nil, fmt.Errorf("edge %s-%s: %w", id, other, err)
		}
		out = append(out, graph.Neighbor{ID: other, Attributes: attrs})
	}
	return out, rows.Err()
}

// ScanNodes pages through matching nodes in id order so that no more than
// one page is held in memory.
func (s *Store) ScanNodes(ctx context.Context, match map[string]string, fn graph.NodeFunc) error {
	after := ""
	first := true
	for {
		q := s.sb.Select("n.id").From("nodes n").OrderBy("n.id").Limit(scanPageSize)
		if !first {
			q = q.Where(sq.Gt{"n.id": after})
		}
		for k, v := range match {
			q = q.Where(sq.Expr(
				"EXISTS (SELECT 1 FROM node_attributes a WHERE a.node_id = n.id AND a.attr_key = ? AND a.attr_value = ?)",
				k, v,
			))
		}

		page, err := s.scanIDs(ctx, q)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		attrs, err := s.attributes(ctx, page)
		if err != nil {
			return err
		}
		for _, id := range page {
			a := attrs[id]
			if a == nil {
				a = map[string]string{}
			}
			if err := fn(id, a); err != nil {
				return err
			}
		}
		if len(page) < scanPageSize {
			return nil
		}
		after, first = page[len(page)-1], false
	}
}

func (s *Store) scanIDs(ctx context.Context, q sq.SelectBuilder) ([]string, error) {
	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddNode inserts id if absent and upserts its attributes.
func (s *Store) AddNode(ctx context.Context, id string, attrs map[string]string) error {
	if err := s.ensureNode(ctx, id); err != nil {
		return err
	}
	for k, v := range attrs {
		ins := s.sb.Insert("node_attributes").
			Columns("node_id", "attr_key", "attr_value").
			Values(id, k, v)
		if s.dialect == MySQL {
			ins = ins.Suffix("ON DUPLICATE KEY UPDATE attr_value = VALUES(attr_value)")
		} else {
			ins = ins.Suffix("ON CONFLICT (node_id, attr_key) DO UPDATE SET attr_value = excluded.attr_value")
		}
		if _, err := ins.ExecContext(ctx); err != nil {
			return fmt.Errorf("write attribute %s of %s: %w", k, id, err)
		}
	}
	return nil
}

// AddEdge inserts source->target, creating missing endpoints. Parallel
// edges are kept.
func (s *Store) AddEdge(ctx context.Context, source, target string, attrs map[string]string) error {
	if err := s.ensureNode(ctx, source); err != nil {
		return err
	}
	if source != target {
		if err := s.ensureNode(ctx, target); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode edge attributes: %w", err)
	}
	if attrs == nil {
		raw = []byte("{}")
	}
	_, err = s.sb.Insert("edges").
		Columns("source", "target", "attributes").
		Values(source, target, string(raw)).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("write edge %s-%s: %w", source, target, err)
	}
	return nil
}

func (s *Store) ensureNode(ctx context.Context, id string) error {
	ins := s.sb.Insert("nodes").Columns("id").Values(id)
	if s.dialect == MySQL {
		ins = ins.Options("IGNORE")
	} else {
		ins = ins.Suffix("ON CONFLICT (id) DO NOTHING")
	}
	if _, err := ins.ExecContext(ctx); err != nil {
		return fmt.Errorf("write node %s: %w", id, err)
	}
	return nil
}

// Counts returns the number of nodes and edges.
func (s *Store) Counts(ctx context.Context) (nodes, edges int64, err error) {
	if err = s.sb.Select("COUNT(*)").From("nodes").QueryRowContext(ctx).Scan(&nodes); err != nil {
		return 0, 0, fmt.Errorf("count nodes: %w", err)
	}
	if err = s.sb.Select("COUNT(*)").From("edges").QueryRowContext(ctx).Scan(&edges); err != nil {
		return 0, 0, fmt.Errorf("count edges: %w", err)
	}
	return nodes, edges, nil
}

func decodeAttrs(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return out, nil
}
