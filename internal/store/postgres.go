package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spigell/jobmatch/internal/ai"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// Postgres is a Store backed by a pgx connection pool. The schema is managed outside of this service.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("connected to database",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns),
	)

	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) GetSeeker(ctx context.Context, id string) (*Seeker, error) {
	var s Seeker
	err := p.pool.QueryRow(ctx,
		`SELECT id, full_name, headline, skills, experience, cv_text, hide_from_companies, updated_at
		 FROM seeker_profiles WHERE id = $1`, id,
	).Scan(&s.ID, &s.FullName, &s.Headline, &s.Skills, &s.Experience, &s.CVText, &s.HideFromCompanies, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("seeker %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get seeker %s: %w", id, err)
	}
	return &s, nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := p.pool.QueryRow(ctx,
		`SELECT id, company_id, title, company_name, description, requirements, location, created_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.CompanyID, &j.Title, &j.Company, &j.Description, &j.Requirements, &j.Location, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &j, nil
}

func (p *Postgres) ListApplicants(ctx context.Context, jobID string) ([]*Seeker, error) {
	if _, err := p.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT s.id, s.full_name, s.headline, s.skills, s.experience, s.cv_text, s.hide_from_companies, s.updated_at
		 FROM applications a
		 JOIN seeker_profiles s ON s.id = a.seeker_id
		 WHERE a.job_id = $1
		 ORDER BY a.created_at`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list applicants for job %s: %w", jobID, err)
	}
	defer rows.Close()

	seekers := make([]*Seeker, 0)
	for rows.Next() {
		var s Seeker
		if err := rows.Scan(&s.ID, &s.FullName, &s.Headline, &s.Skills, &s.Experience, &s.CVText, &s.HideFromCompanies, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan applicant: %w", err)
		}
		seekers = append(seekers, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applicants: %w", err)
	}
	return seekers, nil
}

func (p *Postgres) SaveMatchScore(ctx context.Context, seekerID, jobID string, score *ai.MatchScore) error {
	if score == nil {
		return errors.New("match score is required")
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO applications (id, seeker_id, job_id, status, match_score, match_reasoning, matched_skills, missing_skills, created_at, updated_at)
		 VALUES ($1, $2, $3, 'scored', $4, $5, $6, $7, now(), now())
		 ON CONFLICT (seeker_id, job_id) DO UPDATE SET
		   match_score = EXCLUDED.match_score,
		   match_reasoning = EXCLUDED.match_reasoning,
		   matched_skills = EXCLUDED.matched_skills,
		   missing_skills = EXCLUDED.missing_skills,
		   updated_at = now()`,
		uuid.NewString(), seekerID, jobID, score.Score, score.Reasoning, nonNil(score.MatchedSkills), nonNil(score.MissingSkills),
	)
	if err != nil {
		return fmt.Errorf("save match score %s/%s: %w", seekerID, jobID, err)
	}
	return nil
}

func (p *Postgres) SaveCVAnalysis(ctx context.Context, rec *CVAnalysisRecord) error {
	ensureID(&rec.ID)

	_, err := p.pool.Exec(ctx,
		`INSERT INTO cv_analyses (id, seeker_id, target_role, score, analysis, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		rec.ID, nullable(rec.SeekerID), rec.TargetRole, rec.Analysis.Score, rec.Analysis,
	)
	if err != nil {
		return fmt.Errorf("save cv analysis: %w", err)
	}
	return nil
}

// SaveInterview inserts the session or replaces its transcript. Notes and
// report are only replaced when the new record carries them.
func (p *Postgres) SaveInterview(ctx context.Context, rec *InterviewRecord) error {
	ensureID(&rec.ID)

	var report any
	if rec.Report != nil {
		report = rec.Report
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO interview_sessions (id, seeker_id, job_title, interview_type, difficulty, transcript, behavior_notes, report, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (id) DO UPDATE SET
		   transcript = EXCLUDED.transcript,
		   behavior_notes = CASE
		     WHEN cardinality(EXCLUDED.behavior_notes) = 0 THEN interview_sessions.behavior_notes
		     ELSE EXCLUDED.behavior_notes
		   END,
		   report = COALESCE(EXCLUDED.report, interview_sessions.report)`,
		rec.ID, nullable(rec.SeekerID), rec.JobTitle, rec.InterviewType, rec.Difficulty,
		nonNilMessages(rec.Transcript), nonNil(rec.BehaviorNotes), report,
	)
	if err != nil {
		return fmt.Errorf("save interview %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Postgres) SaveFootprintScan(ctx context.Context, rec *FootprintRecord) error {
	ensureID(&rec.ID)

	_, err := p.pool.Exec(ctx,
		`INSERT INTO footprint_scans (id, seeker_id, full_name, risk_score, report, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		rec.ID, nullable(rec.SeekerID), rec.FullName, rec.Report.RiskScore, rec.Report,
	)
	if err != nil {
		return fmt.Errorf("save footprint scan: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilMessages(values []ai.Message) []ai.Message {
	if values == nil {
		return []ai.Message{}
	}
	return values
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
