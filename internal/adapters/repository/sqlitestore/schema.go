package sqlitestore

// schema is applied to every pooled connection; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS players (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT    NOT NULL,
	name_key    TEXT    NOT NULL UNIQUE,
	mean        REAL    NOT NULL,
	uncertainty REAL    NOT NULL,
	matches     INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	outcome       TEXT    NOT NULL,
	submission_id TEXT,
	played_at     INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS matches_submission_id
	ON matches (submission_id) WHERE submission_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS match_players (
	match_id           INTEGER NOT NULL REFERENCES matches (id),
	slot               INTEGER NOT NULL,
	player_id          INTEGER NOT NULL REFERENCES players (id),
	name               TEXT    NOT NULL,
	mean_before        REAL    NOT NULL,
	uncertainty_before REAL    NOT NULL,
	mean_after         REAL    NOT NULL,
	uncertainty_after  REAL    NOT NULL,
	PRIMARY KEY (match_id, slot)
);

CREATE INDEX IF NOT EXISTS match_players_player
	ON match_players (player_id, match_id);
`
