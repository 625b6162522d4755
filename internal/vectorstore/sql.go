package vectorstore

// Query templates. Collection names are interpolated after quoting through
// pgx.Identifier; values always travel as bind parameters.

const sqlEnsureExtension = `CREATE EXTENSION IF NOT EXISTS vector;`

const sqlTableExists = `
	SELECT EXISTS (
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2
	);`

const sqlListCollections = `
	SELECT DISTINCT c.table_name
	FROM information_schema.tables c
	JOIN information_schema.columns col
	  ON col.table_schema = c.table_schema AND col.table_name = c.table_name
	WHERE c.table_schema = $1 AND col.column_name = 'embedding'
	ORDER BY c.table_name;`

const sqlCreateTable = `
	CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	embedding VECTOR(%d) NOT NULL,
	text TEXT NOT NULL,
	source VARCHAR(512) NOT NULL,
	page INT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	skillsets VARCHAR(256)[],
	title VARCHAR(512),
	author VARCHAR(256),
	url TEXT,
	ts_vector_en TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(text, ''))
	) STORED,
	ts_vector_fr TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('french', coalesce(text, ''))
	) STORED
	);`

const sqlCreateHNSWIndex = `
	CREATE INDEX IF NOT EXISTS %s ON %s
	USING hnsw (embedding vector_cosine_ops)
	WITH (m = %d, ef_construction = %d);`

const sqlCreateIVFFlatIndex = `
	CREATE INDEX IF NOT EXISTS %s ON %s
	USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = %d);`

const sqlCreateSourceIndex = `
	CREATE INDEX IF NOT EXISTS %s ON %s (source);`

const sqlDropTable = `DROP TABLE IF EXISTS %s;`

const sqlDeleteBySource = `DELETE FROM %s WHERE source = $1;`

const sqlExistingSources = `
	SELECT DISTINCT source
	FROM %s
	WHERE source = ANY($1);`

const sqlInsertChunk = `
	INSERT INTO %s (embedding, text, source, page, title, author, url)
	VALUES ($1, $2, $3, $4, $5, $6, $7);`

const sqlCollectionDimension = `
	SELECT a.atttypmod
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2 AND a.attname = 'embedding';`

const sqlSetEfSearch = `SET hnsw.ef_search = %d;`

const sqlReadEmbeddingsCols = `id, text, source, page, skillsets, title, author, url,
	creation_date, embedding <-> $1 AS distance`

// %s slots: columns, table, optional WHERE clause.
const sqlReadEmbeddings = `
	SELECT %s
	FROM %s
	%s
	ORDER BY embedding <-> $1
	LIMIT $2;`

// Per-language score: web-parser matches count double, the plain parser
// catches queries websearch syntax rejects. Flag 1 length-normalizes.
const sqlReadFTS = `
	WITH q AS (
	SELECT
		websearch_to_tsquery('english', $1) AS web_en,
		plainto_tsquery('english', $1)  AS plain_en,
		websearch_to_tsquery('french',  $1) AS web_fr,
		plainto_tsquery('french',  $1)  AS plain_fr
	)
	SELECT
	id, text, source, page, creation_date, title, author, url,
	GREATEST(
		COALESCE(ts_rank(ts_vector_en, q.web_en, 1) * 2 + ts_rank(ts_vector_en, q.plain_en, 1), 0),
		COALESCE(ts_rank(ts_vector_fr, q.web_fr, 1) * 2 + ts_rank(ts_vector_fr, q.plain_fr, 1), 0)
	) AS fts_rank
	FROM %s, q
	WHERE (ts_vector_en @@ q.web_en) OR (ts_vector_en @@ q.plain_en)
	   OR (ts_vector_fr @@ q.web_fr) OR (ts_vector_fr @@ q.plain_fr)
	ORDER BY fts_rank DESC NULLS LAST
	LIMIT $2;`
