package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-bridge/internal/telemetry"
)

var (
	_ telemetry.Sink = (*Snapshots)(nil)
	_ telemetry.Sink = (*Latest)(nil)
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs         []execCall
	execErr       error
	hypertableErr error
	rows          *fakeRows
	queries       []execCall
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, execCall{sql, args})
	if strings.Contains(sql, "create_hypertable") && d.hypertableErr != nil {
		return pgconn.CommandTag{}, d.hypertableErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), d.execErr
}

func (d *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.queries = append(d.queries, execCall{sql, args})
	return d.rows, nil
}

type row struct {
	t time.Time
	v float64
}

type fakeRows struct {
	data   []row
	i      int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	cur := r.data[r.i-1]
	*(dest[0].(*time.Time)) = cur.t
	*(dest[1].(*float64)) = cur.v
	return nil
}

type fakeCache struct {
	hash      map[string]string
	ttl       time.Duration
	hsetErr   error
	getAllErr error
}

func (c *fakeCache) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	if c.hsetErr != nil {
		return redis.NewIntResult(0, c.hsetErr)
	}
	if c.hash == nil {
		c.hash = map[string]string{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		c.hash[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (c *fakeCache) Expire(_ context.Context, _ string, ttl time.Duration) *redis.BoolCmd {
	c.ttl = ttl
	return redis.NewBoolResult(true, nil)
}

func (c *fakeCache) HGetAll(context.Context, string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(c.hash, c.getAllErr)
}

func TestSnapshotsArchive(t *testing.T) {
	db := &fakeDB{}
	s := NewSnapshots(db)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Archive(context.Background(), ts, map[string]float64{"sht20_temperature": 26, "pump_calculated_status": 1}))

	require.Len(t, db.execs, 1)
	call := db.execs[0]
	assert.Contains(t, call.sql, "INSERT INTO telemetry_snapshots")
	assert.Equal(t, ts, call.args[0])
	var doc map[string]float64
	require.NoError(t, json.Unmarshal(call.args[1].([]byte), &doc))
	assert.Equal(t, 26.0, doc["sht20_temperature"])
}

func TestSnapshotsArchiveError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection reset")}
	err := NewSnapshots(db).Archive(context.Background(), time.Now(), map[string]float64{"a": 1})
	assert.ErrorContains(t, err, "insert snapshot")
}

func TestSnapshotsEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	hypertable, err := NewSnapshots(db).EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.True(t, hypertable)
	require.Len(t, db.execs, 2)
	assert.Contains(t, db.execs[0].sql, "CREATE TABLE IF NOT EXISTS telemetry_snapshots")
	assert.Contains(t, db.execs[1].sql, "create_hypertable('telemetry_snapshots', 'time'")
}

func TestSnapshotsEnsureSchemaWithoutTimescale(t *testing.T) {
	db := &fakeDB{hypertableErr: &pgconn.PgError{Code: "42883", Message: "function create_hypertable does not exist"}}
	hypertable, err := NewSnapshots(db).EnsureSchema(context.Background())
	require.NoError(t, err)
	assert.False(t, hypertable)
}

func TestSnapshotsEnsureSchemaHypertableError(t *testing.T) {
	db := &fakeDB{hypertableErr: &pgconn.PgError{Code: "42501", Message: "permission denied"}}
	_, err := NewSnapshots(db).EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "create hypertable")
}

func TestSnapshotsHistory(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := &fakeRows{data: []row{{t0, 25.5}, {t0.Add(10 * time.Second), 25.7}}}
	db := &fakeDB{rows: rows}

	got, err := NewSnapshots(db).History(context.Background(), "sht20_temperature", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []Point{{t0, 25.5}, {t0.Add(10 * time.Second), 25.7}}, got)
	assert.True(t, rows.closed)
	assert.Equal(t, "sht20_temperature", db.queries[0].args[0])
}

func TestLatestRoundTrip(t *testing.T) {
	cache := &fakeCache{}
	l := NewLatest(cache, 24*time.Hour)

	require.NoError(t, l.Archive(context.Background(), time.Now(), map[string]float64{"sht20_humidity": 55.5, "exhaust_fan_status": 1}))
	assert.Equal(t, 24*time.Hour, cache.ttl)
	assert.Equal(t, "55.5", cache.hash["sht20_humidity"])

	cache.hash["garbage"] = "n/a"
	got, err := l.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"sht20_humidity": 55.5, "exhaust_fan_status": 1}, got)
}

func TestLatestErrors(t *testing.T) {
	cache := &fakeCache{hsetErr: errors.New("READONLY")}
	l := NewLatest(cache, time.Hour)
	assert.ErrorContains(t, l.Archive(context.Background(), time.Now(), map[string]float64{"a": 1}), "hset")
	assert.NoError(t, l.Archive(context.Background(), time.Now(), nil))

	cache = &fakeCache{getAllErr: redis.Nil}
	got, err := NewLatest(cache, time.Hour).All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
