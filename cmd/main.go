package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/sift/pkg/chunker"
	cfgPkg "github.com/xhad/sift/pkg/config"
	"github.com/xhad/sift/pkg/extractor"
	"github.com/xhad/sift/pkg/llm"
	"github.com/xhad/sift/pkg/rag"
	"github.com/xhad/sift/pkg/store"
	"github.com/xhad/sift/server"
)

type options struct {
	configPath string
	ingestPath string
	serve      bool
	reindex    bool
	debug      bool
}

func main() {
	opts, cfg := parseFlags()

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		os.Exit(1)
	}

	if err := run(opts, cfg); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() (options, *cfgPkg.Config) {
	var opts options
	var dbURL, ollamaURL, model, embedModel string
	var vectorDim, chunkSize, chunkOverlap, topK, port int

	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.ingestPath, "ingest", "", "File or directory of PDFs to ingest")
	flag.BoolVar(&opts.serve, "serve", false, "Run the HTTP server")
	flag.BoolVar(&opts.reindex, "reindex", false, "Rebuild the whole index from stored documents")
	flag.BoolVar(&opts.debug, "debug", false, "Show retrieval debug info in chat")
	flag.StringVar(&dbURL, "db-url", "", "PostgreSQL connection string")
	flag.StringVar(&ollamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&model, "model", "", "Chat model")
	flag.StringVar(&embedModel, "embed-model", "", "Embedding model")
	flag.IntVar(&vectorDim, "vector-dim", 0, "Embedding vector dimension")
	flag.IntVar(&chunkSize, "chunk-size", 0, "Target chunk size in characters")
	flag.IntVar(&chunkOverlap, "chunk-overlap", 0, "Overlap between consecutive chunks")
	flag.IntVar(&topK, "top-k", 0, "Number of chunks to retrieve per query")
	flag.IntVar(&port, "port", 0, "HTTP server port")
	flag.Parse()

	cfg, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Command line flags override the config file
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if ollamaURL != "" {
		cfg.LLM.BaseURL = ollamaURL
		cfg.Embedding.BaseURL = ollamaURL
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if embedModel != "" {
		cfg.Embedding.Model = embedModel
	}
	if vectorDim != 0 {
		cfg.Embedding.Dimension = vectorDim
	}
	if chunkSize != 0 {
		cfg.Chunker.ChunkSize = chunkSize
	}
	if chunkOverlap != 0 {
		cfg.Chunker.ChunkOverlap = chunkOverlap
	}
	if topK != 0 {
		cfg.Search.TopK = topK
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	return opts, cfg
}

func run(opts options, cfg *cfgPkg.Config) error {
	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		SystemTemplate: cfg.LLM.SystemTemplate,
		BaseURL:        cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:         cfg.Embedding.Model,
		BaseURL:       cfg.Embedding.BaseURL,
		Dimension:     cfg.Embedding.Dimension,
		QueryPrefix:   cfg.Embedding.QueryPrefix,
		PassagePrefix: cfg.Embedding.PassagePrefix,
		Normalize:     cfg.Embedding.Normalize,
		CacheSize:     cfg.Embedding.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		VectorDim:  cfg.Embedding.Dimension,
		BatchSize:  cfg.Database.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	textChunker, err := chunker.NewWithConfig(chunker.Config{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})
	if err != nil {
		return err
	}

	service := rag.NewService(
		rag.ServiceConfig{TopK: cfg.Search.TopK},
		extractor.NewRegistry(),
		textChunker,
		embedder,
		vectorStore,
		chatEngine,
	)

	ctx := context.Background()

	if opts.reindex {
		return runReindex(ctx, service)
	}

	if opts.ingestPath != "" {
		if err := runIngest(ctx, service, opts.ingestPath); err != nil {
			return err
		}
		if !opts.serve {
			return nil
		}
	}

	if opts.serve {
		srv := server.New(server.Config{
			Port:       cfg.Server.Port,
			APIKey:     cfg.Server.APIKey,
			RequireKey: cfg.Server.RequireKey,
		}, service, vectorStore)
		srv.SetStreamer(chatEngine)
		return srv.Run()
	}

	return runChat(ctx, service, opts.debug)
}

func runIngest(ctx context.Context, service *rag.Service, path string) error {
	files, err := collectFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		color.Yellow("No documents found under %s", path)
		return nil
	}

	color.Blue("\nIngesting %d documents\n", len(files))
	bar := getProgressBar(len(files), " Ingesting documents")

	indexed, failed := 0, 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			color.Red("Failed to read %s: %v\n", file, err)
			failed++
			bar.Add(1)
			continue
		}

		fileType := strings.TrimPrefix(filepath.Ext(file), ".")
		result, err := service.IngestDocument(ctx, filepath.Base(file), fileType, data, nil)
		if err != nil {
			color.Red("Failed to ingest %s: %v\n", file, err)
			failed++
			bar.Add(1)
			continue
		}

		if result.Processed {
			indexed++
		} else {
			color.Yellow("Skipped %s: %s\n", filepath.Base(file), result.Message)
			failed++
		}
		bar.Add(1)
	}
	bar.Finish()

	color.Green("\n✓ Indexed %d documents (%d skipped or failed)\n", indexed, failed)
	return nil
}

func runReindex(ctx context.Context, service *rag.Service) error {
	spinner := getSpinner(" Rebuilding index...")
	results, err := service.Reindex(ctx)
	spinner.Finish()
	if err != nil {
		return fmt.Errorf("reindex failed: %v", err)
	}

	indexed := 0
	for _, r := range results {
		if r.Processed {
			indexed++
		} else {
			color.Yellow("Document %d (%s): %s\n", r.DocumentID, r.Filename, r.Message)
		}
	}
	color.Green("✓ Reindexed %d of %d documents\n", indexed, len(results))
	return nil
}

func runChat(ctx context.Context, service *rag.Service, debug bool) error {
	color.Cyan("\nChat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		spinner := getSpinner(" Thinking...")
		resp := service.Query(ctx, rag.QueryRequest{Query: query, Debug: debug})
		spinner.Finish()

		assistantPrompt("\nAssistant: %s\n", resp.Response)

		if debug && resp.DebugInfo != nil {
			color.Blue("  %d chunks in %.2fs", resp.DebugInfo.NumResults, resp.ProcessingTime)
			for i, src := range resp.DebugInfo.Sources {
				color.Blue("  [%d] %s (%.3f)", i, src, resp.DebugInfo.Scores[i])
			}
		}
	}

	return nil
}

func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".pdf") {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
