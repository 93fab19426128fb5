// Package archive keeps published telemetry: the full history as JSON rows
// in TimescaleDB and the latest value per key in a Valkey hash.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// LastKey is the Valkey hash holding the latest value of every payload key.
const LastKey = "telemetry:last"

const schemaSQL = `CREATE TABLE IF NOT EXISTS telemetry_snapshots (
	time    TIMESTAMPTZ NOT NULL,
	payload JSONB       NOT NULL
)`

const hypertableSQL = `SELECT create_hypertable('telemetry_snapshots', 'time', if_not_exists => TRUE)`

// undefinedFunction is the SQLSTATE Postgres returns when the timescaledb
// extension is not installed.
const undefinedFunction = "42883"

// DB is the part of *pgxpool.Pool the archive uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Cache is the part of *redis.Client the archive uses.
type Cache interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// OpenPostgres connects and pings.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return pool, nil
}

// OpenValkey connects and pings.
func OpenValkey(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("valkey unreachable: %w", err)
	}
	return rdb, nil
}

// Snapshots is the cold store.
type Snapshots struct {
	db DB
}

func NewSnapshots(db DB) *Snapshots {
	return &Snapshots{db: db}
}

// EnsureSchema creates the snapshot table when missing and turns it into a
// TimescaleDB hypertable partitioned on time. On plain Postgres, where
// create_hypertable does not exist, the table stays a regular table and
// hypertable reports false.
func (s *Snapshots) EnsureSchema(ctx context.Context) (hypertable bool, err error) {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return false, fmt.Errorf("create telemetry_snapshots: %w", err)
	}
	if _, err := s.db.Exec(ctx, hypertableSQL); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedFunction {
			return false, nil
		}
		return false, fmt.Errorf("create hypertable: %w", err)
	}
	return true, nil
}

func (s *Snapshots) Name() string { return "postgres" }

// Archive inserts one row per published payload.
func (s *Snapshots) Archive(ctx context.Context, ts time.Time, payload map[string]float64) error {
	doc, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO telemetry_snapshots (time, payload) VALUES ($1, $2)`, ts.UTC(), doc)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Point is one history sample. Short keys keep chart payloads small.
type Point struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// History returns the values of key over the last d, oldest first.
func (s *Snapshots) History(ctx context.Context, key string, d time.Duration) ([]Point, error) {
	since := time.Now().UTC().Add(-d)
	rows, err := s.db.Query(ctx, `
		SELECT time, (payload ->> $1)::double precision
		FROM telemetry_snapshots
		WHERE time >= $2 AND payload ->> $1 IS NOT NULL
		ORDER BY time ASC
	`, key, since)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	points := make([]Point, 0, 100)
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Time, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Latest is the hot store.
type Latest struct {
	cache Cache
	ttl   time.Duration
}

// NewLatest stores values that expire ttl after the last publish.
func NewLatest(cache Cache, ttl time.Duration) *Latest {
	return &Latest{cache: cache, ttl: ttl}
}

func (l *Latest) Name() string { return "valkey" }

// Archive overwrites each key of payload in the hash and refreshes its expiry.
func (l *Latest) Archive(ctx context.Context, _ time.Time, payload map[string]float64) error {
	if len(payload) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(payload)*2)
	for k, v := range payload {
		values = append(values, k, strconv.FormatFloat(v, 'f', -1, 64))
	}
	if err := l.cache.HSet(ctx, LastKey, values...).Err(); err != nil {
		return fmt.Errorf("valkey hset: %w", err)
	}
	if l.ttl > 0 {
		if err := l.cache.Expire(ctx, LastKey, l.ttl).Err(); err != nil {
			return fmt.Errorf("valkey expire: %w", err)
		}
	}
	return nil
}

// All returns the latest value of every key. Entries that are not numbers
// are skipped; a missing hash yields an empty map.
func (l *Latest) All(ctx context.Context) (map[string]float64, error) {
	raw, err := l.cache.HGetAll(ctx, LastKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("valkey hgetall: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[k] = f
	}
	return out, nil
}
