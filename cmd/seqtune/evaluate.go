package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/pmoura/seqtune/internal/arch"
	"github.com/pmoura/seqtune/internal/checkpoint"
	"github.com/pmoura/seqtune/internal/dataset"
	"github.com/pmoura/seqtune/internal/finetune"
	"github.com/pmoura/seqtune/internal/logger"
	"github.com/pmoura/seqtune/internal/metric"
	"github.com/pmoura/seqtune/internal/model"
	"github.com/pmoura/seqtune/internal/tokenizer"
)

func evaluateCmd() *cli.Command {
	var (
		ckptDir       string
		dataPath      string
		vocabPath     string
		batchSize     int64
		seqLen        int64
		featureHidden int64
	)

	return &cli.Command{
		Name:    "evaluate",
		Aliases: []string{"eval"},
		Usage:   "Evaluate a saved checkpoint on a dataset",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "run directory holding the snapshot",
				Required:    true,
				Destination: &ckptDir,
			},
			&cli.StringFlag{
				Name:        "data",
				Usage:       "path to evaluation data (JSON lines)",
				Required:    true,
				Destination: &dataPath,
			},
			&cli.StringFlag{
				Name:        "vocab",
				Usage:       "vocabulary file (defaults to vocab.json in the run directory)",
				Destination: &vocabPath,
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
				Name:        "feature-hidden",
				Usage:       "hidden width of the feature head (mlp mode)",
				Value:       50,
				Destination: &featureHidden,
			},
		}, loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger()
			ctx = logger.WithContext(ctx, log)

			meta, state, err := checkpoint.Load(ckptDir)
			if err != nil {
				return err
			}
			log.Info("checkpoint loaded", "run", meta.RunID, "arch", meta.Mode, "epoch", meta.Epoch)

			mode, err := arch.ParseMode(meta.Mode)
			if err != nil {
				return err
			}
			plan, err := arch.NewPlan(mode, len(dataset.Labels))
			if err != nil {
				return err
			}

			if vocabPath == "" {
				vocabPath = filepath.Join(ckptDir, "vocab.json")
			}
			tok, err := tokenizer.Load(vocabPath)
			if err != nil {
				return err
			}

			emb, ok := state["backbone.emb"]
			if !ok || len(emb)%tok.VocabSize() != 0 {
				return fmt.Errorf("checkpoint does not match vocabulary %s (%d words)", vocabPath, tok.VocabSize())
			}
			hidden := len(emb) / tok.VocabSize()

			backbone, err := model.NewSeq2Seq(model.Config{
				VocabSize: tok.VocabSize(),
				Hidden:    hidden,
				EOSID:     tokenizer.EOSID,
			}, 0)
			if err != nil {
				return err
			}

			mod, err := finetune.New(finetune.Config{
				Plan:          plan,
				Backbone:      backbone,
				Tok:           tok,
				LR:            1, // unused: evaluation never optimizes
				FeatureLen:    int(seqLen),
				FeatureHidden: int(featureHidden),
				Log:           log,
			})
			if err != nil {
				return err
			}
			if err := mod.LoadStateDict(state); err != nil {
				return err
			}

			examples, err := dataset.ReadJSONL(dataPath)
			if err != nil {
				return err
			}
			loader, err := dataset.NewLoader(examples, tok, dataset.LoaderConfig{
				BatchSize: int(batchSize),
				SeqLen:    int(seqLen),
				Target:    targetKind(plan),
			})
			if err != nil {
				return err
			}

			for i := 0; i < loader.NumBatches(); i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				batch, err := loader.Batch(i)
				if err != nil {
					return err
				}
				if err := mod.EvalStep(batch); err != nil {
					return err
				}
			}
			metrics, err := mod.EvalEpochEnd()
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(metric.Finite(metrics), "", "  ")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
}
