package graph

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/platform/neo4jdb"
)

type lineageRows struct {
	nodes       []map[string]any
	conversions []map[string]any
}

func buildLineageRows(stimuli []*types.Stimulus, now string) lineageRows {
	var rows lineageRows
	seen := map[uuid.UUID]bool{}
	for _, s := range stimuli {
		if s == nil || s.ID == uuid.Nil || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		node := map[string]any{
			"id":        s.ID.String(),
			"sha1_hash": s.SHA1Hash,
			"path":      s.Path,
			"mimetype":  s.Mimetype,
			"active":    s.Active,
			"synced_at": now,
		}
		if s.DatasetID != nil {
			node["dataset_id"] = s.DatasetID.String()
		}
		rows.nodes = append(rows.nodes, node)

		if s.ParentID == nil || *s.ParentID == uuid.Nil {
			continue
		}
		params := ""
		if len(s.ConverterParameters) > 0 {
			params = string(s.ConverterParameters)
		}
		rows.conversions = append(rows.conversions, map[string]any{
			"parent_id":  s.ParentID.String(),
			"child_id":   s.ID.String(),
			"converter":  strings.TrimSpace(s.ConverterName),
			"parameters": params,
			"synced_at":  now,
		})
	}
	return rows
}

// UpsertStimulusLineage merges stimulus nodes, their dataset membership and
// (:Stimulus)-[:CONVERTED_TO]->(:Stimulus) edges for converted stimuli.
func UpsertStimulusLineage(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, stimuli []*types.Stimulus) error {
	if client == nil || client.Driver == nil || len(stimuli) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows := buildLineageRows(stimuli, time.Now().UTC().Format(time.RFC3339Nano))
	if len(rows.nodes) == 0 {
		return nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// Best-effort schema init.
	for _, q := range []string{
		`CREATE CONSTRAINT stimulus_id_unique IF NOT EXISTS FOR (s:Stimulus) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT dataset_id_unique IF NOT EXISTS FOR (d:Dataset) REQUIRE d.id IS UNIQUE`,
	} {
		if res, err := session.Run(ctx, q, nil); err != nil {
			if log != nil {
				log.Warn("neo4j schema init failed (continuing)", "error", err)
			}
		} else {
			_, _ = res.Consume(ctx)
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (s:Stimulus {id: n.id})
SET s += n
WITH s, n
WHERE n.dataset_id IS NOT NULL
MERGE (d:Dataset {id: n.dataset_id})
MERGE (d)-[:HAS_STIMULUS]->(s)
`, map[string]any{"nodes": rows.nodes})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(rows.conversions) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MERGE (p:Stimulus {id: r.parent_id})
MERGE (c:Stimulus {id: r.child_id})
MERGE (p)-[e:CONVERTED_TO {converter: r.converter}]->(c)
SET e.parameters = r.parameters, e.synced_at = r.synced_at
`, map[string]any{"rels": rows.conversions})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// LineageSync mirrors newly registered stimuli into neo4j. Failures are
// logged and never fail the caller.
type LineageSync struct {
	client  *neo4jdb.Client
	log     *logger.Logger
	timeout time.Duration
}

func NewLineageSync(client *neo4jdb.Client, baseLog *logger.Logger) *LineageSync {
	return &LineageSync{client: client, log: baseLog.With("component", "StimulusLineage"), timeout: 10 * time.Second}
}

// OnStimulus has the signature of ingest.StimulusHook.
func (l *LineageSync) OnStimulus(dbc dbctx.Context, s *types.Stimulus) {
	if l == nil || l.client == nil || s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctxutil.Default(dbc.Ctx)), l.timeout)
	defer cancel()
	if err := UpsertStimulusLineage(ctx, l.client, l.log, []*types.Stimulus{s}); err != nil {
		l.log.Warn("stimulus lineage sync failed", "stimulus_id", s.ID, "error", err)
	}
}
