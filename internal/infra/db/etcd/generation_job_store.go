package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"media-gen-orchestrator/internal/config"
	"media-gen-orchestrator/internal/domain"
	"media-gen-orchestrator/internal/domain/model"
	"media-gen-orchestrator/internal/domain/ports/repository"
)

var (
	_ repository.GenerationJobRepository = (*GenerationJobStore)(nil)
	_ repository.JobWatcher              = (*GenerationJobStore)(nil)
)

const maxCASRetries = 16

// GenerationJobStore keeps one JSON document per job under prefix. Updates
// are compare-and-swap on the key's mod revision.
type GenerationJobStore struct {
	cli    *clientv3.Client
	prefix string
	log    *zerolog.Logger
}

func Connect(cfg config.EtcdConfig) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
}

func NewGenerationJobStore(cli *clientv3.Client, prefix string, log *zerolog.Logger) *GenerationJobStore {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	l := log.With().Str("component", "EtcdJobStore").Logger()
	return &GenerationJobStore{cli: cli, prefix: prefix, log: &l}
}

func (s *GenerationJobStore) key(id string) string { return s.prefix + id }

func (s *GenerationJobStore) Create(ctx context.Context, job *model.GenerationJob) error {
	if job == nil {
		return domain.ErrInvalidArgument
	}
	if err := job.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	k := s.key(job.ID)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, string(b))).
		Commit()
	if err != nil {
		return fmt.Errorf("etcd create %s: %w", job.ID, err)
	}
	if !resp.Succeeded {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *GenerationJobStore) Get(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, _, err := s.get(ctx, id)
	return job, err
}

func (s *GenerationJobStore) get(ctx context.Context, id string) (*model.GenerationJob, int64, error) {
	resp, err := s.cli.Get(ctx, s.key(id))
	if err != nil {
		return nil, 0, fmt.Errorf("etcd get %s: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, domain.ErrNotFound
	}
	var job model.GenerationJob
	if err := json.Unmarshal(resp.Kvs[0].Value, &job); err != nil {
		return nil, 0, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, resp.Kvs[0].ModRevision, nil
}

// Update retries the mutation on a fresh read whenever another writer won
// the race, so fn may run more than once.
func (s *GenerationJobStore) Update(ctx context.Context, id string, fn repository.Mutation) (*model.GenerationJob, error) {
	k := s.key(id)
	for i := 0; i < maxCASRetries; i++ {
		cur, rev, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.State.IsTerminal() {
			return nil, domain.ErrJobTerminal
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		if err := model.CheckMutation(cur, next); err != nil {
			return nil, err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}
		resp, err := s.cli.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(k), "=", rev)).
			Then(clientv3.OpPut(k, string(b))).
			Commit()
		if err != nil {
			return nil, fmt.Errorf("etcd update %s: %w", id, err)
		}
		if resp.Succeeded {
			return next, nil
		}
		s.log.Debug().Str("job_id", id).Int("attempt", i+1).Msg("update lost a race, retrying")
	}
	return nil, fmt.Errorf("etcd update %s: too much contention", id)
}

func (s *GenerationJobStore) ListNonTerminal(ctx context.Context) ([]*model.GenerationJob, error) {
	resp, err := s.cli.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd list: %w", err)
	}
	out := make([]*model.GenerationJob, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var job model.GenerationJob
		if err := json.Unmarshal(kv.Value, &job); err != nil {
			s.log.Warn().Err(err).Str("key", string(kv.Key)).Msg("skipping undecodable job")
			continue
		}
		if !job.State.IsTerminal() {
			out = append(out, &job)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// Watch streams non-terminal jobs as they are written by any process. The
// channel closes when ctx ends.
func (s *GenerationJobStore) Watch(ctx context.Context) <-chan *model.GenerationJob {
	out := make(chan *model.GenerationJob)
	wch := s.cli.Watch(ctx, s.prefix, clientv3.WithPrefix())
	go func() {
		defer close(out)
		for resp := range wch {
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				var job model.GenerationJob
				if err := json.Unmarshal(ev.Kv.Value, &job); err != nil {
					s.log.Warn().Err(err).Str("key", string(ev.Kv.Key)).Msg("skipping undecodable job")
					continue
				}
				if job.State.IsTerminal() {
					continue
				}
				select {
				case out <- &job:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
