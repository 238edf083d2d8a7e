package schema

const (
	currentDatabaseQuery = `SELECT current_database()`

	listTablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

	listColumnsQuery = `SELECT column_name,
       data_type,
       character_maximum_length,
       is_nullable = 'YES',
       (is_identity = 'YES' OR COALESCE(column_default, '') LIKE 'nextval(%')
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	// Constraints come from pg_catalog: the information_schema constraint
	// views hide them from roles that only hold SELECT.
	primaryKeyQuery = `SELECT COUNT(*)
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class rel ON rel.oid = con.conrelid
JOIN pg_catalog.pg_namespace nsp ON nsp.oid = rel.relnamespace
JOIN pg_catalog.pg_attribute att
  ON att.attrelid = con.conrelid
 AND att.attnum = ANY (con.conkey)
WHERE con.contype = 'p'
  AND nsp.nspname = $1
  AND rel.relname = $2
  AND att.attname = $3`

	// Composite keys pair local and referenced columns by position.
	foreignKeysQuery = `SELECT con.conname,
       rel.relname,
       att.attname,
       frel.relname,
       fatt.attname
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class rel ON rel.oid = con.conrelid
JOIN pg_catalog.pg_namespace nsp ON nsp.oid = rel.relnamespace
JOIN pg_catalog.pg_class frel ON frel.oid = con.confrelid
CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS cols(attnum, fattnum, ord)
JOIN pg_catalog.pg_attribute att
  ON att.attrelid = con.conrelid
 AND att.attnum = cols.attnum
JOIN pg_catalog.pg_attribute fatt
  ON fatt.attrelid = con.confrelid
 AND fatt.attnum = cols.fattnum
WHERE con.contype = 'f'
  AND nsp.nspname = $1
  AND rel.relname = $2
ORDER BY con.conname, cols.ord`
)
