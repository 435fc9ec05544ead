package db

import "fmt"

// SchemaSQL renders the database schema initialization SQL.
// The embedding dimension is templated so deployments can match their
// embedding model without editing the schema.
func SchemaSQL(embedDimension int) string {
	return fmt.Sprintf(`
    -- ==========================================================================
    -- ITEM TABLE (captured assets)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS item SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON item TYPE string;
    DEFINE FIELD IF NOT EXISTS media_type ON item TYPE string;
    DEFINE FIELD IF NOT EXISTS source ON item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS blob_key ON item TYPE string;
    DEFINE FIELD IF NOT EXISTS mime_type ON item TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS device_id ON item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS device_captured_at ON item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS duration_secs ON item TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS window_end ON item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS tz_offset_minutes ON item TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS status ON item TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS error ON item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS content_hash ON item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS perceptual_hash ON item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS event_time ON item TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS event_time_source ON item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS event_time_confidence ON item TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS duplicate_of ON item TYPE option<record<item>>;
    DEFINE FIELD IF NOT EXISTS duplicate_kind ON item TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON item TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON item TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS item_user ON item FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS item_user_hash ON item FIELDS user_id, content_hash;
    DEFINE INDEX IF NOT EXISTS item_user_event ON item FIELDS user_id, event_time;
    DEFINE INDEX IF NOT EXISTS item_status ON item FIELDS status;

    -- ==========================================================================
    -- ARTIFACT TABLE (content-addressed computation cache)
    -- ==========================================================================
    -- Record IDs are derived from the key tuple, so CREATE doubles as the
    -- first-writer-wins guard. The unique index is belt and braces.
    DEFINE TABLE IF NOT EXISTS artifact SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS item_id ON artifact TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON artifact TYPE string;
    DEFINE FIELD IF NOT EXISTS producer ON artifact TYPE string;
    DEFINE FIELD IF NOT EXISTS producer_version ON artifact TYPE string;
    DEFINE FIELD IF NOT EXISTS fingerprint ON artifact TYPE string;
    DEFINE FIELD IF NOT EXISTS payload ON artifact FLEXIBLE TYPE object DEFAULT {};
    DEFINE FIELD IF NOT EXISTS blob_key ON artifact TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON artifact TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS artifact_item ON artifact FIELDS item_id;
    DEFINE INDEX IF NOT EXISTS artifact_key ON artifact FIELDS item_id, kind, producer, producer_version, fingerprint UNIQUE;

    -- ==========================================================================
    -- MEM_CONTEXT TABLE (observations, episodes, rollup summaries)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS mem_context SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON mem_context TYPE string;
    DEFINE FIELD IF NOT EXISTS context_type ON mem_context TYPE string;
    DEFINE FIELD IF NOT EXISTS is_episode ON mem_context TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS episode_id ON mem_context TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS title ON mem_context TYPE string;
    DEFINE FIELD IF NOT EXISTS summary ON mem_context TYPE string DEFAULT "";
    -- TODO: Use set<string> when Go SDK supports CBOR tag 56 (v3.0 set type)
    DEFINE FIELD IF NOT EXISTS keywords ON mem_context TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS entities ON mem_context TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS location ON mem_context TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS source_item_ids ON mem_context TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS start_time ON mem_context TYPE datetime;
    DEFINE FIELD IF NOT EXISTS end_time ON mem_context TYPE datetime;
    DEFINE FIELD IF NOT EXISTS edited_by_user ON mem_context TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS embedding ON mem_context TYPE option<array<float>>;
    DEFINE FIELD IF NOT EXISTS metadata ON mem_context FLEXIBLE TYPE option<object>;
    DEFINE FIELD IF NOT EXISTS created ON mem_context TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON mem_context TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS ctx_user_type ON mem_context FIELDS user_id, context_type;
    DEFINE INDEX IF NOT EXISTS ctx_episode ON mem_context FIELDS user_id, episode_id;
    DEFINE INDEX IF NOT EXISTS ctx_start ON mem_context FIELDS start_time;
    DEFINE INDEX IF NOT EXISTS ctx_embedding ON mem_context FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
    DEFINE ANALYZER IF NOT EXISTS ctx_analyzer TOKENIZERS class FILTERS lowercase, ascii, snowball(english);
    DEFINE INDEX IF NOT EXISTS ctx_title_ft ON mem_context FIELDS title FULLTEXT ANALYZER ctx_analyzer BM25;
    DEFINE INDEX IF NOT EXISTS ctx_summary_ft ON mem_context FIELDS summary FULLTEXT ANALYZER ctx_analyzer BM25;

    -- ==========================================================================
    -- TASK TABLE (persisted background queue)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS task SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON task TYPE string;
    DEFINE FIELD IF NOT EXISTS payload ON task FLEXIBLE TYPE object DEFAULT {};
    DEFINE FIELD IF NOT EXISTS status ON task TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS attempts ON task TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS max_attempts ON task TYPE int DEFAULT 5;
    DEFINE FIELD IF NOT EXISTS lease_until ON task TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS error ON task TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON task TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS task_status ON task FIELDS status;
    DEFINE INDEX IF NOT EXISTS task_name_status ON task FIELDS name, status;
`, embedDimension)
}
