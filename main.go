package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/ksboy/NLP-External-knowledge/IO"
	"github.com/ksboy/NLP-External-knowledge/model"
	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/train"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

var (
	configPath string
	evalFlag   bool
	dumpVocab  string

	saveTo    string
	lambda    float64
	optimizer string
	reload    bool
	verbose   bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "JSON options file (defaults are used for missing fields)")
	flag.BoolVar(&evalFlag, "eval", false, "Evaluate the checkpoint at saveto on valid and test, then exit")
	flag.StringVar(&dumpVocab, "dump-vocab", "", "Write the word dictionary in exported form to this path and exit")

	flag.StringVar(&saveTo, "saveto", "", "Override saveto")
	flag.Float64Var(&lambda, "lambda", 0, "Override attention_lambda")
	flag.StringVar(&optimizer, "optimizer", "", "Override optimizer (sgd, rmsprop, adadelta, adam)")
	flag.BoolVar(&reload, "reload", false, "Resume from the checkpoint at saveto")
	flag.BoolVar(&verbose, "verbose", false, "Debug logging")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		utils.Warnf("%+v", err)
		os.Exit(1)
	}
}

// loadConfig builds the run configuration: defaults, then -config, then
// explicit flags. When resuming or evaluating an existing checkpoint the
// options saved next to it replace the first two layers.
func loadConfig() (params.Config, error) {
	cfg := params.Default()
	if configPath != "" {
		var err error
		if cfg, err = params.Load(configPath); err != nil {
			return cfg, err
		}
	}
	if err := applyFlags(&cfg); err != nil {
		return cfg, err
	}

	if (cfg.Reload || evalFlag) && fileExists(cfg.SaveTo) {
		opts := params.OptionsPath(cfg.SaveTo)
		if !fileExists(opts) {
			utils.Warnf("no options at %s, using the current configuration", opts)
			return cfg, cfg.Validate()
		}
		saved, err := params.Load(opts)
		if err != nil {
			return cfg, err
		}
		saved.SaveTo = cfg.SaveTo
		saved.Reload = cfg.Reload
		cfg = saved
		if err := applyFlags(&cfg); err != nil {
			return cfg, err
		}
		utils.Infof("options restored from %s", opts)
	}
	return cfg, cfg.Validate()
}

// applyFlags copies the flags given on the command line into cfg.
func applyFlags(cfg *params.Config) error {
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "saveto":
			cfg.SaveTo = saveTo
		case "lambda":
			cfg.AttentionLambda = lambda
		case "optimizer":
			var k params.OptimizerKind
			if k, err = params.ParseOptimizer(optimizer); err == nil {
				cfg.Optimizer = k
			}
		case "reload":
			cfg.Reload = reload
		case "verbose":
			cfg.Verbose = verbose
		}
	})
	return err
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	utils.SetVerbose(cfg.Verbose)

	words, err := IO.LoadVocabulary(cfg.Dictionary)
	if err != nil {
		return err
	}
	if dumpVocab != "" {
		if err := IO.SaveVocabulary(dumpVocab, words); err != nil {
			return err
		}
		utils.Infof("exported %d tokens to %s", len(words.TokenToID), dumpVocab)
		return nil
	}
	lemmas := words
	if cfg.LemmaDict != "" {
		if lemmas, err = IO.LoadVocabulary(cfg.LemmaDict); err != nil {
			return err
		}
	}

	kb := make(IO.KnowledgeBase)
	if cfg.KBDict != "" {
		if kb, err = IO.LoadKnowledge(cfg.KBDict, lemmas, cfg.NWordsLemma, cfg.DimKB); err != nil {
			return err
		}
		utils.Infof("knowledge base: %d relations", kb.Len())
	}

	m := model.New(cfg, utils.NewRand(cfg.Seed))
	utils.Infof("model: %d tensors, %d parameters", m.Store.Len(), m.Store.NumParams())
	if cfg.Embedding != "" {
		n, err := IO.LoadEmbedding(cfg.Embedding, words, cfg.NWords, m.Store.Get("Wemb"))
		if err != nil {
			return err
		}
		utils.Infof("pretrained vectors for %d words", n)
	}

	var history []float64
	if cfg.Reload || evalFlag {
		if !fileExists(cfg.SaveTo) {
			if evalFlag {
				return errors.Errorf("no checkpoint at %s", cfg.SaveTo)
			}
			utils.Warnf("no checkpoint at %s, starting fresh", cfg.SaveTo)
		} else {
			ck, err := model.ReadCheckpoint(cfg.SaveTo)
			if err != nil {
				return err
			}
			if err := ck.LoadInto(m.Store); err != nil {
				return err
			}
			history = ck.HistoryErrs
			utils.Infof("reloaded %s (%d validations)", cfg.SaveTo, len(history))
		}
	}

	trainSet, err := IO.LoadExamples(cfg.Train, words, lemmas, cfg.NWords, cfg.NWordsLemma)
	if err != nil {
		return err
	}
	validSet, err := IO.LoadExamples(cfg.Valid, words, lemmas, cfg.NWords, cfg.NWordsLemma)
	if err != nil {
		return err
	}
	testSet, err := IO.LoadExamples(cfg.Test, words, lemmas, cfg.NWords, cfg.NWordsLemma)
	if err != nil {
		return err
	}
	utils.Infof("%d train, %d valid, %d test examples", len(trainSet), len(validSet), len(testSet))

	tr, err := train.New(cfg, m, kb,
		IO.NewSliceIterator(trainSet, cfg.BatchSize, utils.NewRand(cfg.Seed+1)),
		IO.NewSliceIterator(trainSet, cfg.ValidBatchSize, nil),
		IO.NewSliceIterator(validSet, cfg.ValidBatchSize, nil),
		IO.NewSliceIterator(testSet, cfg.ValidBatchSize, nil),
	)
	if err != nil {
		return err
	}
	tr.State.HistoryErrs = history

	if evalFlag {
		for _, split := range []struct {
			name string
			it   IO.Iterator
		}{{"valid", tr.Valid}, {"test", tr.Test}} {
			cost, acc, err := tr.Evaluate(split.it)
			if err != nil {
				return err
			}
			fmt.Printf("%s\tcost %.5f\tacc %.4f\n", split.name, cost, acc)
		}
		return nil
	}

	if cfg.LogPath != "" {
		log, err := train.NewTrainingLog(cfg.LogPath)
		if err != nil {
			return err
		}
		defer log.Close()
		tr.Log = log
	}
	if err := cfg.Save(params.OptionsPath(cfg.SaveTo)); err != nil {
		return err
	}

	sum, err := tr.Run()
	if err != nil {
		return err
	}
	fmt.Printf("%s after %d updates: train %.4f valid %.4f test %.4f (best epoch %d)\n",
		sum.Stop, sum.Updates, sum.TrainAcc, sum.ValidAcc, sum.TestAcc, sum.BestEpoch)
	fmt.Print(train.ASCIIHistory(sum.ValidAccs, 10))
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
