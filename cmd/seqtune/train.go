package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/pmoura/seqtune/internal/arch"
	"github.com/pmoura/seqtune/internal/checkpoint"
	"github.com/pmoura/seqtune/internal/dataset"
	"github.com/pmoura/seqtune/internal/finetune"
	"github.com/pmoura/seqtune/internal/logger"
	"github.com/pmoura/seqtune/internal/model"
	"github.com/pmoura/seqtune/internal/monitor"
	"github.com/pmoura/seqtune/internal/tokenizer"
	"github.com/pmoura/seqtune/internal/trainer"
)

func trainCmd() *cli.Command {
	var (
		trainPath string
		valPath   string
		archName  string
		name      string
		classes   int64

		epochs        int64
		batchSize     int64
		seqLen        int64
		hidden        int64
		featureHidden int64
		lr            float64
		seed          int64
		accumulate    int64
		patience      int64

		checkpoints string
		monitorAddr string
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Fine-tune a model on a sentence-pair dataset",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "train",
				Usage:       "path to training data (JSON lines)",
				Required:    true,
				Destination: &trainPath,
			},
			&cli.StringFlag{
				Name:        "val",
				Usage:       "path to validation data (JSON lines)",
				Required:    true,
				Destination: &valPath,
			},
			&cli.StringFlag{
				Name:        "arch",
				Aliases:     []string{"a"},
				Usage:       "architecture mode (similarity, mlp, categoric, gen, categoric_gen)",
				Value:       "similarity",
				Destination: &archName,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "run name used in checkpoint files",
				Value:       "assin",
				Destination: &name,
			},
			&cli.Int64Flag{
				Name:        "classes",
				Usage:       "number of entailment classes (categoric mode)",
				Value:       int64(len(dataset.Labels)),
				Destination: &classes,
			},
			&cli.Int64Flag{
				Name:        "epochs",
				Aliases:     []string{"e"},
				Usage:       "number of training epochs",
				Value:       10,
				Destination: &epochs,
			},
			&cli.Int64Flag{
				Name:        "batch-size",
				Aliases:     []string{"b"},
				Usage:       "examples per batch",
				Value:       32,
				Destination: &batchSize,
			},
			&cli.Int64Flag{
				Name:        "seq-len",
				Usage:       "input sequence length in tokens",
				Value:       128,
				Destination: &seqLen,
			},
			&cli.Int64Flag{
				Name:        "hidden",
				Usage:       "backbone hidden size",
				Value:       64,
				Destination: &hidden,
			},
			&cli.Int64Flag{
				Name:        "feature-hidden",
				Usage:       "hidden width of the feature head (mlp mode)",
				Value:       50,
				Destination: &featureHidden,
			},
			&cli.Float64Flag{
				Name:        "lr",
				Usage:       "learning rate",
				Value:       0.01,
				Destination: &lr,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "seed for weight init and shuffling",
				Value:       42,
				Destination: &seed,
			},
			&cli.Int64Flag{
				Name:        "accumulate",
				Usage:       "gradient accumulation window in batches",
				Value:       1,
				Destination: &accumulate,
			},
			&cli.Int64Flag{
				Name:        "patience",
				Usage:       "early-stopping patience in epochs (0 disables)",
				Value:       3,
				Destination: &patience,
			},
			&cli.StringFlag{
				Name:        "checkpoints",
				Usage:       "directory checkpoint runs are written under",
				Value:       "checkpoints",
				Destination: &checkpoints,
			},
			&cli.StringFlag{
				Name:        "monitor-addr",
				Usage:       "listen address for the live monitor (empty disables)",
				Destination: &monitorAddr,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyTrainConfig(cmd, cfg, &epochs, &batchSize, &seqLen, &hidden,
				&lr, &seed, &accumulate, &patience, &checkpoints, &monitorAddr)
			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			mode, err := arch.ParseMode(archName)
			if err != nil {
				return err
			}
			plan, err := arch.NewPlan(mode, int(classes))
			if err != nil {
				return err
			}

			trainEx, err := dataset.ReadJSONL(trainPath)
			if err != nil {
				return err
			}
			valEx, err := dataset.ReadJSONL(valPath)
			if err != nil {
				return err
			}
			log.Info("dataset loaded", "train", len(trainEx), "val", len(valEx))

			corpus := append(dataset.CorpusTexts(trainEx), dataset.CorpusTexts(valEx)...)
			tok := tokenizer.FromCorpus(corpus)
			log.Info("vocabulary built", "size", tok.VocabSize())

			backbone, err := model.NewSeq2Seq(model.Config{
				VocabSize: tok.VocabSize(),
				Hidden:    int(hidden),
				EOSID:     tokenizer.EOSID,
			}, seed)
			if err != nil {
				return err
			}

			target := targetKind(plan)
			trainLoader, err := dataset.NewLoader(trainEx, tok, dataset.LoaderConfig{
				BatchSize: int(batchSize),
				SeqLen:    int(seqLen),
				Target:    target,
				Shuffle:   true,
				Seed:      seed,
			})
			if err != nil {
				return err
			}
			valLoader, err := dataset.NewLoader(valEx, tok, dataset.LoaderConfig{
				BatchSize: int(batchSize),
				SeqLen:    int(seqLen),
				Target:    target,
			})
			if err != nil {
				return err
			}

			mod, err := finetune.New(finetune.Config{
				Plan:          plan,
				Backbone:      backbone,
				Tok:           tok,
				LR:            float32(lr),
				FeatureLen:    int(seqLen),
				FeatureHidden: int(featureHidden),
				Seed:          seed,
				Log:           log,
			})
			if err != nil {
				return err
			}

			store, err := checkpoint.NewStore(checkpoints, name, mode.String(), plan.Monitor.Metric, log)
			if err != nil {
				return err
			}
			if err := tok.Save(filepath.Join(store.Dir(), "vocab.json")); err != nil {
				return err
			}
			log.Info("run created", "id", store.RunID(), "dir", store.Dir(), "arch", mode.String())

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			var reporter trainer.Reporter
			if monitorAddr != "" {
				srv := monitor.NewServer(store.RunID(), name, mode.String())
				reporter = srv
				go func() {
					if err := srv.Start(runCtx, monitorAddr); err != nil && !errors.Is(err, context.Canceled) {
						log.Error("monitor server stopped", "error", err)
					}
				}()
				log.Info("monitor listening", "address", monitorAddr)
			}

			tr := &trainer.Trainer{
				Config: trainer.Config{
					Epochs:   int(epochs),
					Accum:    int(accumulate),
					Patience: int(patience),
					Monitor:  plan.Monitor,
				},
				Log:      log,
				Module:   mod,
				Train:    trainLoader,
				Val:      valLoader,
				Saver:    store,
				Reporter: reporter,
			}
			res, err := tr.Fit(runCtx)
			if err != nil {
				return err
			}
			if res.CheckpointPath == "" {
				return fmt.Errorf("no epoch improved %s; nothing was saved", plan.Monitor.Metric)
			}
			log.Info("training finished",
				"epochs", res.EpochsRun,
				"best_epoch", res.BestEpoch,
				plan.Monitor.Metric, res.BestValue,
				"checkpoint", res.CheckpointPath,
				"early_stopped", res.Stopped,
			)
			return nil
		},
	}
}

// targetKind maps the plan's evaluation decoding to the token targets the
// loader must encode.
func targetKind(plan *arch.Plan) dataset.TargetKind {
	switch plan.Decode {
	case arch.DecodeNumeric:
		return dataset.TargetScore
	case arch.DecodeExactMatch:
		return dataset.TargetLabel
	default:
		return dataset.TargetNone
	}
}
