package genai

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wricardo/santa-delivery-game/game/engine"
)

// SQLGeocodeCache is a Postgres-backed GeocodeCache
type SQLGeocodeCache struct {
	DB *sql.DB
}

// NewSQLGeocodeCache wraps an open database
func NewSQLGeocodeCache(db *sql.DB) *SQLGeocodeCache {
	return &SQLGeocodeCache{DB: db}
}

// OpenSQLGeocodeCache connects to databaseURL through the pgx driver and creates
// the cache table if needed
func OpenSQLGeocodeCache(ctx context.Context, databaseURL string) (*SQLGeocodeCache, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open geocode cache: open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open geocode cache: verify postgres connection: %w", err)
	}

	c := NewSQLGeocodeCache(db)
	if err := c.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Migrate creates the geocode_cache table
func (s *SQLGeocodeCache) Migrate(ctx context.Context) error {
	if s.DB == nil {
		return errors.New("geocode cache: db is nil")
	}
	_, err := s.DB.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS geocode_cache (
		query        TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		lat          DOUBLE PRECISION NOT NULL,
		lng          DOUBLE PRECISION NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`)
	if err != nil {
		return fmt.Errorf("geocode cache: create table: %w", err)
	}
	return nil
}

// Get returns the cached place for query
func (s *SQLGeocodeCache) Get(ctx context.Context, query string) (_ Place, _ bool, err error) {
	defer timeOp(ctx, "geocode.sql.get")(&err)

	if s.DB == nil {
		return Place{}, false, errors.New("geocode cache: db is nil")
	}

	var p Place
	row := s.DB.QueryRowContext(ctx,
		`SELECT display_name, lat, lng FROM geocode_cache WHERE query = $1`,
		normalizeQuery(query))
	if err := row.Scan(&p.DisplayName, &p.Coord.Lat, &p.Coord.Lng); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Place{}, false, nil
		}
		return Place{}, false, fmt.Errorf("get geocode cache: %w", err)
	}
	return p, true, nil
}

// GetMany returns cached places for the given queries, keyed by normalized query
func (s *SQLGeocodeCache) GetMany(ctx context.Context, queries []string) (_ map[string]Place, err error) {
	defer timeOp(ctx, "geocode.sql.getMany")(&err)

	if s.DB == nil {
		return nil, errors.New("geocode cache: db is nil")
	}

	seen := map[string]struct{}{}
	uniq := make([]string, 0, len(queries))
	for _, q := range queries {
		q = normalizeQuery(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		uniq = append(uniq, q)
	}
	if len(uniq) == 0 {
		return map[string]Place{}, nil
	}

	rows, err := s.DB.QueryContext(ctx, `
	SELECT query, display_name, lat, lng
	FROM geocode_cache
	WHERE query = ANY($1::text[]);
	`, uniq)
	if err != nil {
		return nil, fmt.Errorf("get geocode cache: query geocode_cache table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Place, len(uniq))
	for rows.Next() {
		var q string
		var p Place
		if err := rows.Scan(&q, &p.DisplayName, &p.Coord.Lat, &p.Coord.Lng); err != nil {
			return nil, fmt.Errorf("get geocode cache: scan rows: %w", err)
		}
		out[q] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get geocode cache: row iteration: %w", err)
	}
	return out, nil
}

// Put stores place under query
func (s *SQLGeocodeCache) Put(ctx context.Context, query string, place Place) (err error) {
	defer timeOp(ctx, "geocode.sql.put")(&err)

	if s.DB == nil {
		return errors.New("geocode cache: db is nil")
	}
	key := normalizeQuery(query)
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("insert geocode cache: empty query")
	}
	if err := engine.ValidateCoordinate(place.Coord); err != nil {
		return fmt.Errorf("insert geocode cache %q: %w", key, err)
	}

	_, err = s.DB.ExecContext(ctx, `
	INSERT INTO geocode_cache (query, display_name, lat, lng)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (query) DO UPDATE
	SET display_name = EXCLUDED.display_name,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		updated_at = now();
	`, key, place.DisplayName, place.Coord.Lat, place.Coord.Lng)
	if err != nil {
		return fmt.Errorf("insert geocode cache %q: %w", key, err)
	}
	return nil
}

// Close closes the database
func (s *SQLGeocodeCache) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
