package dialect

// Builtin dialect definitions. The parent links drive both macro-prefix
// fallback (redshift__x missing -> postgres__x -> default__x) and the
// internal package chain (dbt_redshift -> dbt_postgres -> dbt).
func init() {
	for _, d := range []*Dialect{
		{Name: "postgres", QuoteOpen: `"`, QuoteClose: `"`, DefaultSchema: "public"},
		{Name: "redshift", Parent: "postgres", QuoteOpen: `"`, QuoteClose: `"`, DefaultSchema: "public"},
		{Name: "duckdb", QuoteOpen: `"`, QuoteClose: `"`, DefaultSchema: "main"},
		{Name: "snowflake", QuoteOpen: `"`, QuoteClose: `"`, FoldsUpper: true, DefaultSchema: "PUBLIC"},
		{Name: "bigquery", QuoteOpen: "`", QuoteClose: "`"},
		{Name: "spark", QuoteOpen: "`", QuoteClose: "`", DefaultSchema: "default"},
		{Name: "databricks", Parent: "spark", QuoteOpen: "`", QuoteClose: "`", DefaultSchema: "default"},
	} {
		Register(d)
	}
}
