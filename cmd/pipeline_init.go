package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/internal/fanout"
	"github.com/sells-group/menu-extractor/internal/gateway"
	"github.com/sells-group/menu-extractor/internal/pipeline"
	"github.com/sells-group/menu-extractor/internal/prompt"
	"github.com/sells-group/menu-extractor/internal/render"
	"github.com/sells-group/menu-extractor/internal/schema"
	"github.com/sells-group/menu-extractor/internal/store"
)

// pipelineEnv holds the store and the service built on it.
type pipelineEnv struct {
	Store   store.Store
	Service *pipeline.Service
	Gateway *gateway.Client // nil in store mode
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates cfg for mode, opens and migrates the store and
// builds the Service. In "store" mode no inference client is created, so
// only upload, status, edit and export operations are usable. Callers
// should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	schemaMode, err := schema.ParseMode(cfg.Schema.Mode)
	if err != nil {
		return nil, err
	}
	registry, err := schema.NewRegistry(schemaMode)
	if err != nil {
		return nil, eris.Wrap(err, "build schema registry")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &pipelineEnv{Store: st}

	var runner *pipeline.Runner
	if mode != "store" {
		gw, err := gateway.New(cfg.Inference)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		exec, err := fanout.New(cfg.Pipeline.MaxConcurrency)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		prompts, err := prompt.New()
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load prompts")
		}
		runner = pipeline.NewRunner(gw, exec, registry, prompts)
		env.Gateway = gw

		zap.L().Info("pipeline configured",
			zap.Int("max_concurrency", exec.Limit()),
			zap.String("schema_mode", string(schemaMode)),
		)
	}

	env.Service = pipeline.NewService(st, runner, registry, render.NewFitz(cfg.Render.DPI))
	return env, nil
}
