package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mmtune/config"
	"mmtune/ds"
	"mmtune/hpo"
	"mmtune/ml"
	"mmtune/util"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "search":
		err = runSearch(os.Args[2:])
	case "worker":
		err = runWorker(os.Args[2:])
	case "eval":
		err = runEval(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <subcommand> [flags]

  search   run a hyperparameter search and write JSON results
  worker   serve trials to a remote search over gob/TCP
  eval     run one forward pass and print logits and class
`, os.Args[0])
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML config file")
	trials := fs.Int("trials", 0, "override search.trials")
	sampler := fs.String("sampler", "", "override search.sampler (random, grid, gp)")
	workers := fs.Int("workers", 0, "override search.workers")
	out := fs.String("out", "", "override output.results")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *trials > 0 {
		cfg.Search.Trials = *trials
	}
	if *sampler != "" {
		cfg.Search.Sampler = *sampler
	}
	if *workers > 0 {
		cfg.Search.Workers = *workers
	}
	if *out != "" {
		cfg.Output.Results = *out
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := util.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	space := buildSpace(cfg.Search.Params)
	smp := buildSampler(cfg.Search, space)

	var runner hpo.Runner
	exec := hpo.Executor(hpo.Serial{})
	if len(cfg.Search.WorkerAddrs) > 0 {
		coord, err := dialWorkers(cfg.Search, log)
		if err != nil {
			return err
		}
		defer coord.Close()
		runner = coord
		exec = hpo.Pool{Workers: coord.Workers()}
	} else {
		local, err := buildLocalRunner(cfg)
		if err != nil {
			return err
		}
		runner = local
		if cfg.Search.Workers > 1 {
			exec = hpo.Pool{Workers: cfg.Search.Workers}
		}
	}

	eng, err := hpo.MakeEngine(space, smp, runner, exec, cfg.Search.Trials, log)
	if err != nil {
		return err
	}

	res, runErr := eng.Run(ctx)
	if len(res.Records) > 0 || runErr == nil {
		if werr := hpo.WriteResults(cfg.Output.Results, res); werr != nil {
			log.Error("results not written", zap.Error(werr))
		} else {
			log.Info("results written", zap.String("path", cfg.Output.Results))
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	best, err := res.Best()
	if err != nil {
		return err
	}
	fmt.Printf("best trial %d: objective %.6g\n", best.Index, best.Objective)
	for _, p := range cfg.Search.Params {
		fmt.Printf("  %s = %.6g\n", p.Name, best.Params[p.Name])
	}
	return nil
}

func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML config file")
	id := fs.Int("id", 1, "worker node id (>= 1)")
	addr := fs.String("addr", "", "listen host:port (default search.worker_addrs[id-1])")
	coordinator := fs.String("coordinator", "", "coordinator host:port (default search.coordinator_addr)")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *id < 1 {
		return fmt.Errorf("worker id %d must be >= 1", *id)
	}
	listen := *addr
	if listen == "" && *id <= len(cfg.Search.WorkerAddrs) {
		listen = cfg.Search.WorkerAddrs[*id-1]
	}
	if listen == "" {
		return fmt.Errorf("no listen address: pass -addr or set search.worker_addrs")
	}
	coord := *coordinator
	if coord == "" {
		coord = cfg.Search.CoordinatorAddr
	}

	log, err := util.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	runner, err := buildLocalRunner(cfg)
	if err != nil {
		return err
	}

	net := &ds.Network[ds.Packet]{}
	net.Initialize(*id, listen, map[int]string{0: coord, *id: listen})
	if err := net.Listen(); err != nil {
		return err
	}
	defer net.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &ds.Worker{}
	w.Initialize(*id, 0, runner, net, log)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runEval(args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML config file")
	text := fs.String("text", "", "text input (required)")
	image := fs.String("image", "", "image file, stub features when empty")
	audio := fs.String("audio", "", "WAV file, stub features when empty")
	ckpt := fs.String("model", "", "gob checkpoint written by a previous run")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *text == "" {
		return fmt.Errorf("-text is required")
	}

	enc, err := buildEncoders(cfg.Model, *image != "", *audio != "")
	if err != nil {
		return err
	}
	m, err := ml.MakeModel(modelConfig(cfg.Model), enc.text, enc.image, enc.audio)
	if err != nil {
		return err
	}
	if *ckpt != "" {
		if err := m.Load(*ckpt); err != nil {
			return err
		}
	}

	imageRaw := stubWhenEmpty(*image, "stub image")
	audioRaw := stubWhenEmpty(*audio, "stub audio")
	class, logits, err := m.Predict(*text, imageRaw, audioRaw)
	if err != nil {
		return err
	}

	row := logits.RawRowView(0)
	fmt.Print("logits:")
	for _, v := range row {
		fmt.Printf(" %.6f", v)
	}
	fmt.Printf("\nclass: %d\n", class)
	return nil
}

func modelConfig(mc config.ModelConfig) ml.Config {
	return ml.Config{
		HiddenDim:     mc.HiddenDim,
		Heads:         mc.Heads,
		EncoderLayers: mc.EncoderLayers,
		DecoderLayers: mc.DecoderLayers,
		FFNDim:        mc.FFNDim,
		Classes:       mc.Classes,
		Summary:       mc.Summary,
		Seed:          mc.Seed,
		ClipNorm:      mc.ClipNorm,
	}
}

func buildSpace(params []config.ParamConfig) hpo.Space {
	space := make(hpo.Space, 0, len(params))
	for _, p := range params {
		space = append(space, hpo.ParamSpec{Name: p.Name, Dist: p.Dist, Low: p.Low, High: p.High})
	}
	return space
}

func buildSampler(sc config.SearchConfig, space hpo.Space) hpo.Sampler {
	switch sc.Sampler {
	case "grid":
		return hpo.MakeGridSampler(space, sc.GridLevels, sc.Trials)
	case "gp":
		return hpo.MakeGPSampler(space, hpo.GPConfig{
			InitSamples: sc.GP.InitSamples,
			Candidates:  sc.GP.Candidates,
			Beta:        sc.GP.Beta,
			Lengthscale: sc.GP.Lengthscale,
			Noise:       sc.GP.Noise,
			Seed:        sc.Seed,
		})
	default:
		return hpo.MakeRandomSampler(space, sc.Seed)
	}
}

type encoderSet struct {
	text  ml.Encoder
	image ml.Encoder
	audio ml.Encoder
}

// buildEncoders picks the real file-backed encoder for a modality only when
// every example carries a file for it; otherwise the stub encoder stands in
// with the configured width, so projection shapes stay identical either way.
func buildEncoders(mc config.ModelConfig, haveImages, haveAudio bool) (encoderSet, error) {
	var enc encoderSet

	text, err := ml.MakeTextEncoder(mc.Text.Width, mc.Text.Buckets, mc.Seed)
	if err != nil {
		return enc, err
	}
	enc.text = text

	if haveImages {
		image, err := ml.MakeImageEncoder(mc.Image.Width, mc.Image.Size, mc.Image.Patch, mc.Seed)
		if err != nil {
			return enc, err
		}
		enc.image = image
	} else {
		enc.image = &ml.DumbEncoder{Width: mc.Image.Width, Mode: "image", Len: 4}
	}

	if haveAudio {
		audio, err := ml.MakeAudioEncoder(mc.Audio.Width, mc.Audio.Rate, mc.Audio.Frame, mc.Audio.Hop, mc.Seed)
		if err != nil {
			return enc, err
		}
		enc.audio = audio
	} else {
		enc.audio = &ml.DumbEncoder{Width: mc.Audio.Width, Mode: "audio", Len: 4}
	}
	return enc, nil
}

func stubWhenEmpty(path, stub string) string {
	if path == "" {
		return stub
	}
	return path
}

func buildLocalRunner(cfg config.Config) (*hpo.LocalRunner, error) {
	haveImages := true
	haveAudio := true
	for _, ex := range cfg.Data.Examples {
		if ex.Image == "" {
			haveImages = false
		}
		if ex.Audio == "" {
			haveAudio = false
		}
	}

	enc, err := buildEncoders(cfg.Model, haveImages, haveAudio)
	if err != nil {
		return nil, err
	}

	batch := make([]ml.Example, 0, len(cfg.Data.Examples))
	for _, ex := range cfg.Data.Examples {
		batch = append(batch, ml.Example{
			Text:  ex.Text,
			Image: stubWhenEmpty(ex.Image, "stub image"),
			Audio: stubWhenEmpty(ex.Audio, "stub audio"),
			Label: ex.Label,
		})
	}
	return hpo.MakeLocalRunner(modelConfig(cfg.Model), enc.text, enc.image, enc.audio, batch)
}

func dialWorkers(sc config.SearchConfig, log *zap.Logger) (*ds.Coordinator, error) {
	table := map[int]string{0: sc.CoordinatorAddr}
	ids := make([]int, 0, len(sc.WorkerAddrs))
	for i, addr := range sc.WorkerAddrs {
		table[i+1] = addr
		ids = append(ids, i+1)
	}

	net := &ds.Network[ds.Packet]{}
	net.Initialize(0, sc.CoordinatorAddr, table)
	if err := net.Listen(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(sc.Params))
	for _, p := range sc.Params {
		names = append(names, p.Name)
	}
	return ds.MakeCoordinator(net, ids, names, log)
}
