package installer

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"modkeeper/internal/shared"
	"modkeeper/internal/types"
)

type fetchResult struct {
	index int
	data  []byte
	err   error
}

// prefetch obtains the archive of every install and upgrade in ops. A
// failure is attached to its operation index; it never stops the other
// fetches.
func (i *Installer) prefetch(ctx context.Context, ops []types.Operation) map[int]fetchResult {
	var pending []int
	for index, op := range ops {
		if op.Kind != types.OperationRemove && op.To != nil {
			pending = append(pending, index)
		}
	}
	out := make(map[int]fetchResult, len(pending))
	workerCount := normalizeWorkers(i.Workers)
	if len(pending) < workerCount {
		workerCount = len(pending)
	}
	if workerCount == 0 {
		return out
	}

	tasks := make(chan int)
	results := make(chan fetchResult, len(pending))
	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range tasks {
				if ctx.Err() != nil {
					results <- fetchResult{index: index, err: ctx.Err()}
					continue
				}
				data, err := i.obtainArchive(ctx, *ops[index].To)
				results <- fetchResult{index: index, data: data, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	for _, index := range pending {
		tasks <- index
	}
	close(tasks)

	for result := range results {
		out[result.index] = result
	}
	return out
}

// obtainArchive returns the cached archive of module, downloading and
// caching it on a miss.
func (i *Installer) obtainArchive(ctx context.Context, module types.ModuleVersion) ([]byte, error) {
	key := types.KeyFor(module)
	if i.Cache != nil {
		ok, err := i.Cache.Has(ctx, key)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("module", module.Identifier).Msg("archive cache lookup failed")
		}
		if ok {
			data, err := i.Cache.Get(ctx, key)
			if err == nil {
				i.metrics().ObserveFetch("cache", "hit", len(data))
				return data, nil
			}
			log.Ctx(ctx).Warn().Err(err).Str("module", module.Identifier).Msg("cached archive unusable, fetching again")
		}
	}
	if i.Fetcher == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no fetcher configured")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, normalizeFetchTimeout(i.FetchTimeout))
	defer cancel()
	source := i.sourceOf(module.Download)
	start := time.Now()
	data, err := i.Fetcher.Fetch(fetchCtx, module)
	if err != nil {
		i.metrics().ObserveFetch(source, "error", 0)
		return nil, err
	}
	if err := shared.VerifyChecksum(module.DownloadHash, data); err != nil {
		i.metrics().ObserveFetch(source, "checksum_mismatch", len(data))
		return nil, err
	}
	i.metrics().ObserveFetch(source, "ok", len(data))
	log.Ctx(ctx).Debug().
		Str("module", module.Identifier).
		Str("version", module.Version).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("archive fetched")

	if i.Cache != nil {
		if err := i.Cache.Put(ctx, key, data); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("module", module.Identifier).Msg("failed to cache archive")
		}
	}
	return data, nil
}

func (i *Installer) sourceOf(download string) string {
	if i.SourceOf != nil {
		return i.SourceOf(download)
	}
	return "remote"
}

func normalizeWorkers(value int) int {
	if value <= 0 {
		return 4
	}
	return value
}

func normalizeFetchTimeout(value time.Duration) time.Duration {
	if value <= 0 {
		return 60 * time.Second
	}
	return value
}
