package postgres

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_course_catalog",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_raw_facts",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_aggregates",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: COURSE CATALOG
// Owned and written by the catalog/enrollment services; created here so the
// analytics reads have a schema to run against.
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS courses (
    id BIGSERIAL PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    price NUMERIC(10,2) NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_price CHECK (price >= 0)
);

CREATE TABLE IF NOT EXISTS lessons (
    id BIGSERIAL PRIMARY KEY,
    course_id BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    title VARCHAR(255) NOT NULL,
    position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_lessons_course_position ON lessons(course_id, position);

CREATE TABLE IF NOT EXISTS enrollments (
    course_id BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (course_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_enrollments_enrolled_at ON enrollments(enrolled_at);

CREATE TABLE IF NOT EXISTS course_reviews (
    id BIGSERIAL PRIMARY KEY,
    course_id BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    rating SMALLINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE (course_id, user_id),
    CONSTRAINT valid_rating CHECK (rating BETWEEN 1 AND 5)
);

CREATE INDEX IF NOT EXISTS idx_course_reviews_course_created ON course_reviews(course_id, created_at);
`

const migration001Down = `
DROP TABLE IF EXISTS course_reviews;
DROP TABLE IF EXISTS enrollments;
DROP TABLE IF EXISTS lessons;
DROP TABLE IF EXISTS courses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: RAW FACTS
// Append-only view and engagement logs plus per-lecture progress records.
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS course_views (
    id UUID PRIMARY KEY,
    course_id BIGINT NOT NULL,
    user_id BIGINT,
    viewed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ip_address VARCHAR(64) NOT NULL DEFAULT '',
    device_type VARCHAR(32) NOT NULL DEFAULT 'unknown',
    source VARCHAR(64) NOT NULL DEFAULT 'direct',
    viewer_key VARCHAR(64) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_course_views_course_time ON course_views(course_id, viewed_at);
CREATE INDEX IF NOT EXISTS idx_course_views_time ON course_views(viewed_at);

CREATE TABLE IF NOT EXISTS course_engagements (
    id UUID PRIMARY KEY,
    course_id BIGINT NOT NULL,
    user_id BIGINT,
    engagement_type VARCHAR(16) NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_engagement_type CHECK (engagement_type IN
        ('comment', 'question', 'note', 'download', 'bookmark', 'share'))
);

CREATE INDEX IF NOT EXISTS idx_course_engagements_course_time ON course_engagements(course_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS lecture_progress (
    user_id BIGINT NOT NULL,
    lecture_id BIGINT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
    course_id BIGINT NOT NULL,
    progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    duration_watched INTEGER NOT NULL DEFAULT 0,
    start_time TIMESTAMP WITH TIME ZONE NOT NULL,
    last_access_time TIMESTAMP WITH TIME ZONE NOT NULL,
    completion_time TIMESTAMP WITH TIME ZONE,
    revision BIGINT NOT NULL DEFAULT 1,

    PRIMARY KEY (user_id, lecture_id),
    CONSTRAINT valid_progress CHECK (progress_percentage >= 0 AND progress_percentage <= 100),
    CONSTRAINT valid_duration CHECK (duration_watched >= 0),
    CONSTRAINT completion_stamped CHECK (NOT is_completed OR completion_time IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_lecture_progress_lecture ON lecture_progress(lecture_id);
CREATE INDEX IF NOT EXISTS idx_lecture_progress_completion
    ON lecture_progress(course_id, completion_time) WHERE completion_time IS NOT NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS lecture_progress;
DROP TABLE IF EXISTS course_engagements;
DROP TABLE IF EXISTS course_views;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS course_daily_stats (
    course_id BIGINT NOT NULL,
    stat_date DATE NOT NULL,
    views INTEGER NOT NULL DEFAULT 0,
    unique_viewers INTEGER NOT NULL DEFAULT 0,
    enrollments INTEGER NOT NULL DEFAULT 0,
    lesson_completions INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (course_id, stat_date),
    CONSTRAINT valid_counts CHECK (views >= 0 AND enrollments >= 0 AND lesson_completions >= 0),
    CONSTRAINT unique_within_views CHECK (unique_viewers >= 0 AND unique_viewers <= views)
);

CREATE TABLE IF NOT EXISTS course_demographics_snapshots (
    course_id BIGINT NOT NULL,
    snapshot_date DATE NOT NULL,
    age_ranges JSONB NOT NULL DEFAULT '{}'::jsonb,
    genders JSONB NOT NULL DEFAULT '{}'::jsonb,
    countries JSONB NOT NULL DEFAULT '{}'::jsonb,
    experience_levels JSONB NOT NULL DEFAULT '{}'::jsonb,

    PRIMARY KEY (course_id, snapshot_date)
);
`

const migration003Down = `
DROP TABLE IF EXISTS course_demographics_snapshots;
DROP TABLE IF EXISTS course_daily_stats;
`
