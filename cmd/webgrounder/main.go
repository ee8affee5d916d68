package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/groundlab/webgrounder/internal/cache"
	"github.com/groundlab/webgrounder/internal/fetch"
	"github.com/groundlab/webgrounder/internal/judge"
	"github.com/groundlab/webgrounder/internal/llm"
	"github.com/groundlab/webgrounder/internal/pipeline"
	"github.com/groundlab/webgrounder/internal/planner"
	"github.com/groundlab/webgrounder/internal/serp"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		configPath string

		llmBaseURL string
		llmKey     string
		llmModel   string
		embedModel string

		serpURL      string
		serpKey      string
		serpDepth    int
		serpCountry  string
		serpLanguage string

		headlessURL      string
		readerURL        string
		unlockerEndpoint string
		unlockerKey      string
		unlockerZone     string

		cachePath   string
		cacheMaxAge time.Duration

		maxQueries     int
		maxCandidates  int
		maxPages       int
		maxChunks      int
		perDomain      int
		perURL         int
		pageTimeout    time.Duration
		retry          bool
		allowSkip      bool
		locationHint   string
		showProgress   bool
		verbose        bool
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file (flags take precedence)")
	flag.StringVar(&llmBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL")
	flag.StringVar(&llmKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for OpenAI-compatible server")
	flag.StringVar(&llmModel, "llm.model", os.Getenv("LLM_MODEL"), "Chat model for planning and the evidence gate")
	flag.StringVar(&embedModel, "llm.embedModel", os.Getenv("LLM_EMBED_MODEL"), "Embedding model; empty disables semantic ranking")
	flag.StringVar(&serpURL, "serp.url", os.Getenv("SERP_URL"), "SERP API base URL")
	flag.StringVar(&serpKey, "serp.key", os.Getenv("SERP_KEY"), "SERP API key")
	flag.IntVar(&serpDepth, "serp.depth", 10, "Organic results requested per query")
	flag.StringVar(&serpCountry, "serp.country", "", "Locale country code, e.g. 'us'")
	flag.StringVar(&serpLanguage, "serp.language", "", "Locale language code, e.g. 'en'")
	flag.StringVar(&headlessURL, "headless.url", os.Getenv("HEADLESS_URL"), "Headless render service base URL (optional)")
	flag.StringVar(&readerURL, "reader.url", os.Getenv("READER_URL"), "Reader proxy base URL (optional)")
	flag.StringVar(&unlockerEndpoint, "unlocker.endpoint", os.Getenv("UNLOCKER_ENDPOINT"), "Unlocker proxy endpoint (optional, billed per call)")
	flag.StringVar(&unlockerKey, "unlocker.key", os.Getenv("UNLOCKER_KEY"), "Unlocker API key")
	flag.StringVar(&unlockerZone, "unlocker.zone", os.Getenv("UNLOCKER_ZONE"), "Unlocker zone name")
	flag.StringVar(&cachePath, "cache.path", ".webgrounder-cache.db", "SQLite cache path; empty disables caching")
	flag.DurationVar(&cacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this before the run (e.g. 72h); 0 disables")
	flag.IntVar(&maxQueries, "max.queries", 3, "Maximum planner queries")
	flag.IntVar(&maxCandidates, "max.candidates", 10, "Maximum merged results fetched")
	flag.IntVar(&maxPages, "max.pages", 7, "Maximum pages kept after quality filtering")
	flag.IntVar(&maxChunks, "max.chunks", 12, "Maximum selected evidence chunks")
	flag.IntVar(&perDomain, "max.perDomain", 3, "Maximum chunks per domain")
	flag.IntVar(&perURL, "max.perURL", 2, "Maximum chunks per URL")
	flag.DurationVar(&pageTimeout, "page.timeout", 15*time.Second, "Per-page fetch timeout")
	flag.BoolVar(&retry, "retry", true, "Run one retry pass with judge-suggested queries on insufficient evidence")
	flag.BoolVar(&allowSkip, "allow-skip", true, "Let the planner skip web search for prompts that need none")
	flag.StringVar(&locationHint, "location", os.Getenv("LOCATION_HINT"), "Optional user location hint for planning")
	flag.BoolVar(&showProgress, "progress", false, "Print page-fetch progress to stderr")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	if configPath != "" {
		fc, err := LoadConfigFile(configPath)
		if err != nil {
			log.Error().Err(err).Str("path", configPath).Msg("load config file")
			os.Exit(2)
		}
		setFlags := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
		applyString(&llmBaseURL, os.Getenv("LLM_BASE_URL"), fc.LLM.BaseURL)
		applyString(&llmKey, os.Getenv("LLM_API_KEY"), fc.LLM.APIKey)
		applyString(&llmModel, os.Getenv("LLM_MODEL"), fc.LLM.Model)
		applyString(&embedModel, os.Getenv("LLM_EMBED_MODEL"), fc.LLM.EmbedModel)
		applyString(&serpURL, os.Getenv("SERP_URL"), fc.Serp.URL)
		applyString(&serpKey, os.Getenv("SERP_KEY"), fc.Serp.Key)
		applyInt(&serpDepth, 10, fc.Serp.Depth)
		applyString(&serpCountry, "", fc.Serp.Country)
		applyString(&serpLanguage, "", fc.Serp.Language)
		applyString(&headlessURL, os.Getenv("HEADLESS_URL"), fc.Headless.URL)
		applyString(&readerURL, os.Getenv("READER_URL"), fc.Reader.URL)
		applyString(&unlockerEndpoint, os.Getenv("UNLOCKER_ENDPOINT"), fc.Unlocker.Endpoint)
		applyString(&unlockerKey, os.Getenv("UNLOCKER_KEY"), fc.Unlocker.Key)
		applyString(&unlockerZone, os.Getenv("UNLOCKER_ZONE"), fc.Unlocker.Zone)
		applyString(&cachePath, ".webgrounder-cache.db", fc.Cache.Path)
		applyInt(&maxQueries, 3, fc.Max.Queries)
		applyInt(&maxCandidates, 10, fc.Max.Candidates)
		applyInt(&maxPages, 7, fc.Max.Pages)
		applyInt(&maxChunks, 12, fc.Max.Chunks)
		applyInt(&perDomain, 3, fc.Max.PerDomain)
		applyInt(&perURL, 2, fc.Max.PerURL)
		if cacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
			cacheMaxAge = fc.Cache.MaxAge
		}
		if fc.Max.PageTimeout > 0 && pageTimeout == 15*time.Second {
			pageTimeout = time.Duration(fc.Max.PageTimeout) * time.Second
		}
		applyBool(&retry, setFlags["retry"], fc.Retry)
		applyBool(&allowSkip, setFlags["allow-skip"], fc.AllowSkip)
		applyBool(&verbose, setFlags["v"], fc.Verbose)
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: webgrounder [flags] <prompt>")
		os.Exit(2)
	}
	if serpURL == "" {
		log.Error().Msg("serp.url is required (or set SERP_URL)")
		os.Exit(2)
	}

	ctx := context.Background()

	var store *cache.Store
	if cachePath != "" {
		s, err := cache.Open(cachePath)
		if err != nil {
			log.Warn().Err(err).Str("path", cachePath).Msg("cache unavailable; continuing without")
		} else {
			store = s
			defer store.Close()
			if cacheMaxAge > 0 {
				for _, bucket := range []string{cache.BucketSERP, cache.BucketPage} {
					if n, err := store.PurgeOlderThan(ctx, bucket, cacheMaxAge); err != nil {
						log.Warn().Err(err).Str("bucket", bucket).Msg("cache purge failed")
					} else if n > 0 {
						log.Debug().Int64("entries", n).Str("bucket", bucket).Msg("purged stale cache entries")
					}
				}
			}
		}
	}

	p := &pipeline.Pipeline{
		Serp:  &serp.HTTPProvider{BaseURL: serpURL, APIKey: serpKey},
		Cache: store,
	}
	if llmModel != "" {
		cfg := openai.DefaultConfig(llmKey)
		if llmBaseURL != "" {
			cfg.BaseURL = llmBaseURL
		}
		provider := &llm.OpenAIProvider{Inner: openai.NewClientWithConfig(cfg)}
		p.Planner = &planner.LLMPlanner{Client: provider, Model: llmModel, QueryCount: maxQueries}
		p.Judge = &judge.LLMJudge{Client: provider, Model: llmModel}
		if embedModel != "" {
			p.Embedder = provider
		}
	}
	if headlessURL != "" {
		p.Headless = &fetch.HeadlessClient{BaseURL: headlessURL}
	}
	if readerURL != "" {
		p.Reader = &fetch.ReaderClient{BaseURL: readerURL}
	}
	if unlockerEndpoint != "" {
		p.Unlocker = &fetch.UnlockerClient{Endpoint: unlockerEndpoint, APIKey: unlockerKey, Zone: unlockerZone}
	}
	p.HTTPClient = &http.Client{}

	opts := pipeline.Options{
		QueryCount:          maxQueries,
		SerpDepth:           serpDepth,
		Locale:              serp.Locale{Country: serpCountry, Language: serpLanguage},
		FetchCandidateLimit: maxCandidates,
		PageTimeout:         pageTimeout,
		PageLimit:           maxPages,
		TopK:                maxChunks,
		MaxChunksPerDomain:  perDomain,
		MaxChunksPerURL:     perURL,
		RetryOnGateFailure:  retry,
		AllowSkip:           allowSkip,
		CurrentDate:         time.Now().Format("2006-01-02"),
		LocationHint:        locationHint,
		EmbedModel:          embedModel,
	}
	if showProgress {
		opts.OnProgress = func(pr pipeline.Progress) {
			fmt.Fprintf(os.Stderr, "\rfetched %d pages", pr.Searched)
		}
	}

	res := p.Run(ctx, prompt, opts)
	if showProgress {
		fmt.Fprintln(os.Stderr)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Error().Err(err).Msg("encode result")
		os.Exit(1)
	}

	// Degraded runs still exit 0: the result reports its own gate verdict.
	if res.Skipped {
		log.Info().Str("reason", res.SkipReason).Msg("web search skipped")
	} else {
		log.Info().
			Int("chunks", len(res.Chunks)).
			Int("sources", len(res.Sources)).
			Bool("enough_evidence", res.Gate.EnoughEvidence).
			Float64("estimated_usd", res.Cost.EstimatedUSD).
			Msg("run complete")
	}
}
