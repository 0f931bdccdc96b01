package main

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/analyzer"
	"github.com/sells-group/supplyrisk/internal/notify"
	"github.com/sells-group/supplyrisk/internal/pipeline"
	"github.com/sells-group/supplyrisk/internal/resilience"
	"github.com/sells-group/supplyrisk/internal/runstate"
	"github.com/sells-group/supplyrisk/internal/scorer"
	"github.com/sells-group/supplyrisk/internal/store"
	"github.com/sells-group/supplyrisk/internal/tracing"
	anthropicpkg "github.com/sells-group/supplyrisk/pkg/anthropic"
)

// appEnv holds the store, the aggregator and everything that must be
// flushed or closed on exit.
type appEnv struct {
	Store      store.Store
	Aggregator *pipeline.Aggregator
	Hub        *notify.Hub

	closers  []io.Closer
	shutdown tracing.Shutdown
}

// Close flushes event sinks and tracing, then closes the store.
func (e *appEnv) Close() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
	if e.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.shutdown(ctx); err != nil {
			zap.L().Warn("tracing shutdown", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv wires the store, analyzers, scorers, guard and event sinks for the
// run and serve commands. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.shutdown, err = tracing.Setup(cfg.Tracing)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Hub = notify.NewHub(cfg.Notify.SSEBuffer)
	pub, closers, err := notify.Build(cfg.Notify, env.Hub)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "build notifiers")
	}
	env.closers = append(env.closers, closers...)

	var locker runstate.Locker
	if cfg.Guard.RedisURL != "" {
		lock, client, err := runstate.NewRedisLock(cfg.Guard.RedisURL, time.Duration(cfg.Guard.LockTTLSecs)*time.Second)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, client)
		locker = lock
		zap.L().Info("redis run lock enabled")
	}

	engine, err := scorer.New(cfg.Scoring)
	if err != nil {
		env.Close()
		return nil, err
	}

	// Every LLM-assisted step shares one breaker so a dead API fails fast.
	var (
		llm    anthropicpkg.Client
		rater  scorer.Rater
		policy = resilience.NewPolicy("anthropic", cfg.Resilience)
	)
	if cfg.Anthropic.Key != "" {
		llm = anthropicpkg.NewClient(cfg.Anthropic.Key)
		rater = scorer.NewLLMRater(llm, policy, cfg.Anthropic)
	} else {
		zap.L().Info("anthropic key not set, using algorithmic scores and rule-based summaries")
	}

	env.Aggregator = pipeline.NewAggregator(pipeline.Deps{
		Store:     st,
		Suite:     analyzer.Build(cfg),
		Scorer:    scorer.NewSupplierScorer(engine, rater),
		Narrator:  scorer.NewNarrator(llm, policy, cfg.Anthropic),
		Planner:   pipeline.NewPlanner(llm, policy, cfg.Anthropic),
		Guard:     runstate.NewGuard(st, locker),
		Publisher: pub,
	})
	return env, nil
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "supplyrisk.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store for the read-only commands.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
