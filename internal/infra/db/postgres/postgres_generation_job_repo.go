package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/repository"
)

var _ repository.GenerationJobRepository = (*generationJobRepo)(nil)

type generationJobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewGenerationJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *generationJobRepo {
	return &generationJobRepo{
		pool: pool,
		tm:   tm,
	}
}

const jobColumns = `id, external_id, state, provider, model, prompt, options, submit_attempts, poll_attempts,
       next_poll_at, artifact_url, error_kind, error_message, error_retryable, progress, last_error,
       created_at, updated_at`

func (r *generationJobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	if job == nil {
		return domain.ErrInvalidArgument
	}
	if err := job.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO generation_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18);`

	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	if _, err := execSQL(ctx, r.pool, nil, q, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert generation job: %w", err)
	}
	return nil
}

func (r *generationJobRepo) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	return r.findByID(ctx, nil, id, false)
}

// Update locks the row for the duration of the mutation so concurrent
// updates of the same job serialize.
func (r *generationJobRepo) Update(ctx context.Context, id string, fn repository.Mutation) (*model.GenerationJob, error) {
	var out *model.GenerationJob
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := r.findByID(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if cur.State.IsTerminal() {
			return domain.ErrJobTerminal
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if err := model.CheckMutation(cur, next); err != nil {
			return err
		}

		const q = `
UPDATE generation_jobs SET
  external_id=$2, state=$3, provider=$4, model=$5, prompt=$6, options=$7::jsonb, submit_attempts=$8,
  poll_attempts=$9, next_poll_at=$10, artifact_url=$11, error_kind=$12, error_message=$13,
  error_retryable=$14, progress=$15, last_error=$16, created_at=$17, updated_at=$18
WHERE id=$1;`
		args, err := jobArgs(next)
		if err != nil {
			return err
		}
		if _, err := execSQL(ctx, r.pool, tx, q, args...); err != nil {
			return fmt.Errorf("update generation job: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationJobRepo) ListNonTerminal(ctx context.Context) ([]*model.GenerationJob, error) {
	const q = `
SELECT ` + jobColumns + `
  FROM generation_jobs
 WHERE state IN ('queued', 'submitting', 'processing')
 ORDER BY created_at, id;`

	rows, err := queryRows(ctx, r.pool, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *generationJobRepo) findByID(ctx context.Context, tx repository.Tx, id string, forUpdate bool) (*model.GenerationJob, error) {
	q := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id=$1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func jobArgs(j *model.GenerationJob) ([]interface{}, error) {
	opts := j.Request.Options
	if opts == nil {
		opts = map[string]string{}
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	var kind, msg *string
	var retryable *bool
	if j.Error != nil {
		k, m, rt := string(j.Error.Kind), j.Error.Message, j.Error.Retryable
		kind, msg, retryable = &k, &m, &rt
	}
	return []interface{}{
		j.ID, j.ExternalID, string(j.State), string(j.Request.Provider), j.Request.Model, j.Request.Prompt,
		string(b), j.SubmitAttempts, j.PollAttempts, j.NextPollAt, j.ArtifactURL, kind, msg, retryable,
		j.Progress, j.LastError, j.CreatedAt, j.UpdatedAt,
	}, nil
}

func scanJob(row pgx.Row) (*model.GenerationJob, error) {
	var (
		j               model.GenerationJob
		state, provider string
		opts            []byte
		errKind, errMsg *string
		errRetryable    *bool
	)
	err := row.Scan(
		&j.ID, &j.ExternalID, &state, &provider, &j.Request.Model, &j.Request.Prompt, &opts,
		&j.SubmitAttempts, &j.PollAttempts, &j.NextPollAt, &j.ArtifactURL, &errKind, &errMsg, &errRetryable,
		&j.Progress, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = model.JobState(state)
	j.Request.Provider = model.Provider(provider)
	if len(opts) > 0 {
		var m map[string]string
		if err := json.Unmarshal(opts, &m); err != nil {
			return nil, fmt.Errorf("decode options of job %s: %w", j.ID, err)
		}
		if len(m) > 0 {
			j.Request.Options = m
		}
	}
	if errKind != nil {
		j.Error = &model.JobError{Kind: model.ErrorKind(*errKind)}
		if errMsg != nil {
			j.Error.Message = *errMsg
		}
		if errRetryable != nil {
			j.Error.Retryable = *errRetryable
		}
	}
	j.NextPollAt = j.NextPollAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}
