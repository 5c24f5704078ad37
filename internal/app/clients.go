package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/neuroscout-backend/internal/platform/gcp"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/platform/neo4jdb"
	"github.com/yungbote/neuroscout-backend/internal/realtime/bus"
	"github.com/yungbote/neuroscout-backend/internal/temporalx"
)

// Clients are the external systems the process talks to. Everything except
// Bus is optional and nil when its configuration is absent.
type Clients struct {
	Bus        bus.Bus
	Bundles    gcp.BundleStore
	Annotators *gcp.Annotators
	Neo4j      *neo4jdb.Client

	Temporal    temporalsdkclient.Client
	TemporalCfg temporalx.Config
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	b, err := bus.New(log, cfg.RedisAddr, cfg.InvalidationChannel)
	if err != nil {
		return Clients{}, fmt.Errorf("init event bus: %w", err)
	}
	out.Bus = b

	storageCfg, err := gcp.ResolveStorageConfig()
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("object storage config: %w", err)
	}
	if storageCfg.Bucket != "" {
		store, err := gcp.NewBundleStore(ctx, log, storageCfg)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init bundle store: %w", err)
		}
		out.Bundles = store
	} else {
		log.Info("bundle bucket not configured; bundles stay on local disk")
	}

	if cfg.ExtractorsEnabled {
		ann, err := gcp.NewAnnotators(ctx, log)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init annotation clients: %w", err)
		}
		out.Annotators = ann
	}

	nc, err := neo4jdb.New(ctx, log, neo4jdb.ConfigFromEnv())
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}
	out.Neo4j = nc

	out.TemporalCfg = temporalx.LoadConfig()
	tc, err := temporalx.NewClient(ctx, log, out.TemporalCfg)
	if err != nil {
		out.Close()
		return Clients{}, fmt.Errorf("init temporal: %w", err)
	}
	out.Temporal = tc
	return out, nil
}

func (c *Clients) Close() {
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(context.Background())
	}
	if c.Annotators != nil {
		_ = c.Annotators.Close()
	}
	if c.Bundles != nil {
		_ = c.Bundles.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
}
