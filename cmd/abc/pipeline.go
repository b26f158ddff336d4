package main

import (
	"fmt"

	"github.com/abcpipeline/audiobook-organizer/internal/catalog"
	"github.com/abcpipeline/audiobook-organizer/internal/ledger"
	"github.com/abcpipeline/audiobook-organizer/internal/libindex"
	"github.com/abcpipeline/audiobook-organizer/internal/manifest"
	"github.com/abcpipeline/audiobook-organizer/internal/organize"
	"github.com/abcpipeline/audiobook-organizer/internal/probe"
	"github.com/abcpipeline/audiobook-organizer/internal/report"
	"github.com/abcpipeline/audiobook-organizer/internal/resolve"
	"github.com/abcpipeline/audiobook-organizer/internal/stagerunner"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
	"github.com/spf13/viper"
)

// Pipeline bundles every collaborator a stage implementation needs,
// built once per command invocation from the resolved viper
// configuration. Grounded on cmd/mlc/scan.go's "build store, build
// logger, build scanner/extractor, wire them together" sequence,
// generalized to the full stage registry this pipeline drives.
type Pipeline struct {
	Manifest *manifest.Store
	Index    *libindex.Index
	Organize *organize.Engine
	Prober   *probe.Prober
	Catalog  *catalog.Client
	Resolver *resolve.Resolver
	Ledger   *ledger.Ledger
	Events   *report.EventLogger

	LibraryRoot      string
	LockPath         string
	MaxParallel      int
	CPUCeiling       float64
	CatalogThreshold float64
	CatalogMargin    float64
	ResolveAll       bool
	ASINOverride     string
}

// buildPipeline reads the resolved configuration and constructs every
// collaborator a command needs. Callers are responsible for closing
// p.Ledger and p.Events when done.
func buildPipeline() (*Pipeline, error) {
	manifestDir := GetConfigString("manifest_dir", "manifests")
	libraryRoot := GetConfigString("library_root", "")
	if libraryRoot == "" {
		return nil, fmt.Errorf("library_root is required (use --library-root or set in config)")
	}
	lockPath := GetConfigString("lock_path", "abc.lock")
	ledgerPath := GetConfigString("ledger_path", "abc-ledger.db")
	proberBinary := GetConfigString("prober_binary", "ffprobe")
	catalogBaseURL := GetConfigString("catalog_base_url", "")
	catalogRegion := GetConfigString("catalog_region", "us")
	llmBaseURL := GetConfigString("llm_base_url", "")
	llmAPIKey := GetConfigString("llm_api_key", "")
	llmModel := GetConfigString("llm_model", "")
	workDir := GetConfigString("work_dir", "")

	if workDir != "" {
		if err := util.EnsureWorkDirLocal(workDir); err != nil {
			return nil, err
		}
	}

	maxParallel := GetConfigInt("max_parallel", 0)
	if nasCfg, err := util.AutoTuneForPath(libraryRoot, workDir, nil, maxParallel); err == nil && nasCfg.IsNASMode {
		maxParallel = nasCfg.Concurrency
	}

	store, err := manifest.New(manifestDir)
	if err != nil {
		return nil, fmt.Errorf("open manifest store: %w", err)
	}

	idx, err := libindex.Build(libraryRoot)
	if err != nil {
		return nil, fmt.Errorf("build library index: %w", err)
	}

	l, err := ledger.Open(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	logLevel := report.LevelInfo
	if GetConfigBool("quiet") {
		logLevel = report.LevelWarning
	} else if GetConfigBool("verbose") {
		logLevel = report.LevelDebug
	}
	events, err := report.NewEventLogger("artifacts", logLevel)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("open event logger: %w", err)
	}

	return &Pipeline{
		Manifest:         store,
		Index:            idx,
		Organize:         organize.New(libraryRoot, idx),
		Prober:           probe.New(proberBinary),
		Catalog:          catalog.New(catalogBaseURL, catalogRegion),
		Resolver:         resolve.New(llmBaseURL, llmAPIKey, llmModel),
		Ledger:           l,
		Events:           events,
		LibraryRoot:      libraryRoot,
		LockPath:         lockPath,
		MaxParallel:      maxParallel,
		CPUCeiling:       GetConfigFloat("cpu_ceiling", 0),
		CatalogThreshold: GetConfigFloat("catalog_threshold", 0.75),
		CatalogMargin:    GetConfigFloat("catalog_margin", 0.15),
		ResolveAll:       util.GetResolveAll(),
		ASINOverride:     viper.GetString("asin"),
	}, nil
}

// Close releases the pipeline's persistent resources.
func (p *Pipeline) Close() {
	if p.Events != nil {
		p.Events.Close()
	}
	if p.Ledger != nil {
		p.Ledger.Close()
	}
}

// Registry builds the stage function registry backing this pipeline.
func (p *Pipeline) Registry() stagerunner.Registry {
	return stagerunner.Registry{
		manifest.StageValidate: p.stageValidate,
		manifest.StageConcat:   p.stageConcat,
		manifest.StageConvert:  p.stageConvert,
		manifest.StageOrganize: p.stageOrganize,
		manifest.StageCleanup:  p.stageCleanup,
	}
}
