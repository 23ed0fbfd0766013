package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hatlonely/aggx/cfg"
	"github.com/hatlonely/aggx/log"
	"github.com/hatlonely/aggx/search/aggregation"
	"github.com/hatlonely/aggx/search/aggregation/movavg"
	"github.com/hatlonely/aggx/search/coordinator"
	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/hatlonely/aggx/search/shard"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config 演示配置：文档按顺序轮流分配到各个分片
type Config struct {
	Shards  int               `cfg:"shards" def:"2" validate:"gte=1"`
	Mapping map[string]string `cfg:"mapping" validate:"required"`
	// Documents 和 Aggs 保留原始结构，交给 fielddata 和 aggregation.Parse 处理
	Documents interface{}                `cfg:"documents"`
	Aggs      interface{}                `cfg:"aggs" validate:"required"`
	Pipelines []*movavg.Options          `cfg:"pipelines"`
	Barrier   coordinator.BarrierOptions `cfg:"barrier"`
	Shard     shard.Options              `cfg:"shard"`
	Reducer   coordinator.ReducerOptions `cfg:"reducer"`
}

func main() {
	filename := flag.String("config", "search/demo/demo.yaml", "config file (yaml, json or toml)")
	flag.Parse()

	if err := run(context.Background(), *filename); err != nil {
		log.Default().Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func raw(v interface{}) interface{} {
	if value, ok := v.(*cfg.Value); ok {
		return value.Data()
	}
	return v
}

func run(ctx context.Context, filename string) error {
	var config Config
	if err := cfg.Load(filename, &config); err != nil {
		return errors.WithMessagef(err, "load %s", filename)
	}

	body, ok := raw(config.Aggs).(map[string]interface{})
	if !ok {
		return errors.New("aggs must be an object")
	}
	aggs, err := aggregation.Parse(body)
	if err != nil {
		return err
	}

	var pipelines []*movavg.MovingAvg
	for _, options := range config.Pipelines {
		p, err := movavg.New(options)
		if err != nil {
			return err
		}
		pipelines = append(pipelines, p)
	}

	mapping := map[string]fielddata.ValueType{}
	for field, typ := range config.Mapping {
		if mapping[field], err = fielddata.ParseValueType(typ); err != nil {
			return errors.WithMessagef(err, "field [%s]", field)
		}
	}
	docs, _ := raw(config.Documents).([]interface{})
	shardDocs := make([][]fielddata.Document, config.Shards)
	for i, doc := range docs {
		m, ok := raw(doc).(map[string]interface{})
		if !ok {
			return errors.Errorf("document %d must be an object", i)
		}
		shardDocs[i%config.Shards] = append(shardDocs[i%config.Shards], m)
	}

	config.Shard.ShardCount = config.Shards
	executor, err := shard.NewExecutorWithOptions(&config.Shard)
	if err != nil {
		return err
	}
	defer executor.Close()

	barrier, err := coordinator.NewBarrierWithOptions(&config.Barrier)
	if err != nil {
		return err
	}
	shardIDs := make([]string, config.Shards)
	for i := range shardIDs {
		shardIDs[i] = fmt.Sprintf("shard-%d", i)
	}
	sessionID, err := barrier.Open(shardIDs)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for i, shardID := range shardIDs {
		g.Go(func() error {
			fd, err := fielddata.NewMemory(mapping, shardDocs[i])
			if err != nil {
				return err
			}
			resp := &coordinator.ShardResponse{ShardID: shardID}
			result, err := executor.Execute(ctx, &shard.Request{Aggregations: aggs, Segments: []*shard.Segment{{FieldData: fd}}})
			if err != nil {
				resp.Failure = err.Error()
			} else if resp, err = coordinator.NewShardResponse(shardID, result); err != nil {
				return err
			}
			return barrier.Arrive(ctx, sessionID, coordinator.MarshalEnvelope(resp))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	reducer, err := coordinator.NewReducerWithOptions(&config.Reducer)
	if err != nil {
		return err
	}
	result, err := reducer.ReduceSession(ctx, barrier, sessionID, pipelines...)
	if err != nil {
		return err
	}

	out, err := aggregation.RenderJSON(result)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
