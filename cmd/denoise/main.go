package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/FlavioCFOliveira/denoiser/internal/config"
	"github.com/FlavioCFOliveira/denoiser/internal/dataset"
	"github.com/FlavioCFOliveira/denoiser/internal/layer"
	"github.com/FlavioCFOliveira/denoiser/internal/model"
	"github.com/FlavioCFOliveira/denoiser/internal/net"
	"github.com/FlavioCFOliveira/denoiser/internal/visual"
	"github.com/FlavioCFOliveira/denoiser/internal/web"
)

const (
	noisyVsCleanFile = "noisy_vs_clean.png"
	comparisonFile   = "denoised_comparison.png"
	lossCurveFile    = "loss.svg"
	historyFile      = "history.csv"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults are used when empty)")
	epochs := flag.Int("epochs", 0, "training epochs (overrides config)")
	batchSize := flag.Int("batch-size", 0, "mini-batch size (overrides config)")
	noise := flag.Float64("noise", -1, "noise factor (overrides config when >= 0)")
	seed := flag.Uint64("seed", 0, "seed for weights, noise and shuffling (overrides config)")
	outDir := flag.String("out", "", "output directory (overrides config)")
	cacheDir := flag.String("cache", "", "MNIST cache directory (overrides config)")
	trainLimit := flag.Int("train-limit", 0, "use at most this many training images")
	testLimit := flag.Int("test-limit", 0, "use at most this many test images")
	serve := flag.String("serve", "", "serve the training viewer on this address, e.g. 127.0.0.1:8080")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	var seedOverride *uint64
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedOverride = seed
		}
	})
	cfg.ApplyOverrides(config.Overrides{
		CacheDir:    *cacheDir,
		TrainLimit:  *trainLimit,
		TestLimit:   *testLimit,
		NoiseFactor: *noise,
		Epochs:      *epochs,
		BatchSize:   *batchSize,
		Seed:        seedOverride,
		OutputDir:   *outDir,
		ServeAddr:   *serve,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Fatalf("interrupted, training progress lost: %v", err)
		}
		log.Fatalf("denoise: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	start := time.Now()
	log.Printf("device: %s", layer.GetDefaultDevice().Describe())
	log.Printf("config: epochs=%d batch_size=%d noise=%.2f seed=%d pooling=%s out=%s",
		cfg.Epochs, cfg.BatchSize, cfg.NoiseFactor, cfg.Seed, cfg.Pooling, cfg.OutputDir)

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var viewer *web.Server
	if cfg.ServeAddr != "" {
		viewer = web.NewServer(cfg.OutputDir)
		go func() {
			if err := viewer.ListenAndServe(ctx, cfg.ServeAddr); err != nil {
				log.Printf("web: %v", err)
			}
		}()
	}
	publish := func(name string) {
		log.Printf("artifact: %s", cfg.OutputPath(name))
		if viewer != nil {
			viewer.AddArtifact(name)
		}
	}

	// 1. Load and preprocess.
	corpus, err := dataset.Load(ctx, dataset.LoaderConfig{
		CacheDir:   cfg.CacheDir,
		BaseURL:    cfg.BaseURL,
		TrainLimit: cfg.TrainLimit,
		TestLimit:  cfg.TestLimit,
	})
	if err != nil {
		return err
	}
	xTrain, err := dataset.Normalize(corpus.Train)
	if err != nil {
		return fmt.Errorf("train set: %w", err)
	}
	xTest, err := dataset.Normalize(corpus.Test)
	if err != nil {
		return fmt.Errorf("test set: %w", err)
	}
	st := xTrain.Stats()
	log.Printf("preprocess: train=%d test=%d shape=%s min=%.2f max=%.2f mean=%.4f",
		xTrain.Len(), xTest.Len(), xTrain.Shape(), st.Min, st.Max, st.Mean)

	// 2. Corrupt.
	noisyTrain := dataset.AddNoise(xTrain, cfg.NoiseFactor, dataset.NewSource(cfg.Seed))
	noisyTest := dataset.AddNoise(xTest, cfg.NoiseFactor, dataset.NewSource(cfg.Seed+1))

	if err := visual.Comparison(cfg.OutputPath(noisyVsCleanFile), cfg.Samples,
		[]string{"noisy", "clean"}, noisyTest, xTest); err != nil {
		return err
	}
	publish(noisyVsCleanFile)

	// 3. Build.
	poolKind := model.MaxPool2D
	if cfg.Pooling == "avg" {
		poolKind = model.AvgPool2D
	}
	specs, err := model.WithPooling(model.DenoisingAutoencoder(), poolKind)
	if err != nil {
		return err
	}
	if err := model.Summary(os.Stdout, xTrain.Shape(), specs); err != nil {
		return err
	}
	n, err := model.Build(xTrain.Shape(), specs, cfg.Seed)
	if err != nil {
		return err
	}
	log.Printf("model: layers=%d params=%d", len(n.Layers()), n.NumParams())

	// 4. Train.
	modelPath := cfg.OutputPath(cfg.ModelFile)
	callbacks := []net.Callback{
		net.Logger{Interval: cfg.LogEvery},
		net.NewCSVLogger(cfg.OutputPath(historyFile), false),
	}
	if cfg.Checkpoint {
		callbacks = append(callbacks, net.NewModelCheckpoint(modelPath))
	}
	if viewer != nil {
		callbacks = append(callbacks, viewer)
	}

	history, err := n.Fit(ctx, model.Samples(noisyTrain), model.Samples(xTrain), net.FitConfig{
		Epochs:      cfg.Epochs,
		BatchSize:   cfg.BatchSize,
		Seed:        cfg.Seed,
		ValidationX: model.Samples(noisyTest),
		ValidationY: model.Samples(xTest),
		Callbacks:   callbacks,
	})
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	publish(historyFile)

	// 5. Persist.
	if err := n.Save(modelPath); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	publish(cfg.ModelFile)
	if cfg.ExportGGUF {
		ggufName := trimExt(cfg.ModelFile) + ".gguf"
		ggmlType := net.GGMLTypeF32
		if cfg.GGUFHalf {
			ggmlType = net.GGMLTypeF16
		}
		if err := n.SaveGGUFExt(cfg.OutputPath(ggufName), ggmlType); err != nil {
			return fmt.Errorf("export gguf: %w", err)
		}
		publish(ggufName)
	}

	// 6. Visualize.
	if err := visual.LossCurve(history, cfg.OutputPath(lossCurveFile)); err != nil {
		return err
	}
	publish(lossCurveFile)

	if err := saveDenoised(cfg, n, noisyTest, xTest); err != nil {
		return err
	}
	publish(comparisonFile)

	if last, ok := history.Last(); ok {
		log.Printf("done: loss=%.4f val_loss=%.4f elapsed=%s", last.Loss, last.ValLoss, time.Since(start).Round(time.Second))
	}

	if viewer != nil {
		log.Printf("web: training finished, viewer stays up until interrupted")
		<-ctx.Done()
	}
	return nil
}

// saveDenoised renders noisy, denoised and clean rows for the first test
// samples, plus a residual row when enabled.
func saveDenoised(cfg *config.Config, n *net.Network, noisy, clean *dataset.Batch) error {
	count := min(cfg.Samples, noisy.Len())
	noisyHead, err := noisy.Head(count)
	if err != nil {
		return err
	}
	cleanHead, err := clean.Head(count)
	if err != nil {
		return err
	}
	denoised, err := model.Predict(n, noisyHead)
	if err != nil {
		return err
	}

	var rows []visual.Row
	for _, p := range []struct {
		title string
		b     *dataset.Batch
	}{{"noisy", noisyHead}, {"denoised", denoised}, {"clean", cleanHead}} {
		row, err := visual.BatchRow(p.title, p.b, count)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if cfg.ResidualRow {
		row, err := visual.ResidualRow("|denoised - clean|", denoised, cleanHead, count)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return visual.SaveGrid(cfg.OutputPath(comparisonFile), rows)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
