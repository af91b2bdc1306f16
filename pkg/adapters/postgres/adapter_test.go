package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/leapstack-labs/leapdbt/pkg/adapter"
	"github.com/stretchr/testify/assert"
)

type testRelation struct {
	schema string
	name   string
}

func (r testRelation) Database() string   { return "" }
func (r testRelation) Schema() string     { return r.schema }
func (r testRelation) Identifier() string { return r.name }
func (r testRelation) Render() string {
	return fmt.Sprintf(`"%s"."%s"`, r.schema, r.name)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  adapter.Config
		want string
	}{
		{
			name: "full target",
			cfg: adapter.Config{
				Host:     "db.internal",
				Port:     6432,
				DBName:   "warehouse",
				User:     "etl",
				Password: "hunter2",
			},
			want: "host=db.internal port=6432 dbname=warehouse sslmode=disable user=etl password=hunter2",
		},
		{
			name: "host and port default to localhost 5432",
			cfg:  adapter.Config{DBName: "jaffle_shop"},
			want: "host=localhost port=5432 dbname=jaffle_shop sslmode=disable",
		},
		{
			name: "sslmode comes from the options map",
			cfg: adapter.Config{
				Host:    "prod.internal",
				DBName:  "warehouse",
				User:    "reporter",
				Options: map[string]string{"sslmode": "require"},
			},
			want: "host=prod.internal port=5432 dbname=warehouse sslmode=require user=reporter",
		},
		{
			name: "credentials omitted when unset",
			cfg: adapter.Config{
				Host:   "replica.internal",
				Port:   5433,
				DBName: "analytics",
			},
			want: "host=replica.internal port=5433 dbname=analytics sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDSN(tt.cfg))
		})
	}
}

func TestCreateTableSQL(t *testing.T) {
	rel := testRelation{schema: "raw", name: "customers"}

	sql := createTableSQL(rel, []string{"id", "first name", `we"ird`})

	assert.Contains(t, sql, `DROP TABLE IF EXISTS "raw"."customers"`)
	assert.Contains(t, sql, `CREATE TABLE "raw"."customers"`)
	assert.Contains(t, sql, `"id" TEXT`)
	assert.Contains(t, sql, `"first name" TEXT`)
	assert.Contains(t, sql, `"we""ird" TEXT`)
}

func TestCopySQL(t *testing.T) {
	rel := testRelation{schema: "raw", name: "customers"}
	assert.Equal(t,
		`COPY "raw"."customers" FROM STDIN WITH (FORMAT csv, HEADER true)`,
		copySQL(rel))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"user"`, quoteIdent("user"))
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)

	assert.ErrorIs(t, adp.Exec(ctx, "SELECT 1"), adapter.ErrNotConnected)

	_, err := adp.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, adapter.ErrNotConnected)

	err = adp.LoadCSV(ctx, testRelation{schema: "raw", name: "t"}, "nope.csv")
	assert.ErrorIs(t, err, adapter.ErrNotConnected)
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "postgres", New(nil).Dialect())
}

func TestRegistered(t *testing.T) {
	assert.True(t, adapter.IsRegistered("postgres"))
}
