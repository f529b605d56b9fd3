package storage

const schema = `
-- 'sources' tracks where lesson files come from: a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- local | git
    last_scanned DATETIME
);

CREATE TABLE IF NOT EXISTS lessons (
    id TEXT PRIMARY KEY,
    source_id INTEGER,
    subject_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    order_index INTEGER NOT NULL DEFAULT 0,
    xp_award INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY(source_id) REFERENCES sources(id) ON DELETE CASCADE
);

-- 'items' are the gradeable questions of a lesson. options and answer are JSON.
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    lesson_id TEXT NOT NULL,
    type TEXT NOT NULL,
    order_index INTEGER NOT NULL,
    prompt TEXT NOT NULL,
    options TEXT NOT NULL DEFAULT '[]',
    answer TEXT NOT NULL,
    explanation TEXT NOT NULL DEFAULT '',
    media_url TEXT NOT NULL DEFAULT '',
    xp_value INTEGER NOT NULL DEFAULT 10,

    FOREIGN KEY(lesson_id) REFERENCES lessons(id) ON DELETE CASCADE
);

-- 'review_cards' hold one learner's spaced-repetition state for one item.
-- Cards outlive their items: retention is decided elsewhere.
CREATE TABLE IF NOT EXISTS review_cards (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    due_date DATETIME NOT NULL,
    interval_seconds REAL NOT NULL,
    ease_factor REAL NOT NULL,
    repetitions INTEGER NOT NULL DEFAULT 0,
    last_reviewed_at DATETIME,
    created_at DATETIME NOT NULL,

    UNIQUE(user_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_review_cards_due ON review_cards(user_id, due_date);

CREATE TABLE IF NOT EXISTS review_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    card_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    quality INTEGER NOT NULL,
    interval_seconds REAL NOT NULL,
    ease_factor REAL NOT NULL,
    reviewed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS lesson_completions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    lesson_id TEXT NOT NULL,
    items_total INTEGER NOT NULL,
    items_missed INTEGER NOT NULL,
    passes_taken INTEGER NOT NULL,
    xp_earned INTEGER NOT NULL,
    completed_at DATETIME NOT NULL
);
`
