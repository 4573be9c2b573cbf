// Package train drives epochs of minibatch updates with periodic
// checkpointing, validation and the patience / learning-rate halving
// policy.
package train

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/IO"
	"github.com/ksboy/NLP-External-knowledge/model"
	"github.com/ksboy/NLP-External-knowledge/optimizations"
	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

// ErrNonFiniteValidation aborts training when a validation cost is NaN
// or infinite.
var ErrNonFiniteValidation = errors.New("non-finite validation cost")

type Trainer struct {
	Config    params.Config
	Model     *model.Model
	Optimizer optimizations.Optimizer
	KB        IO.KnowledgeBase

	Train      IO.Iterator // shuffled
	TrainValid IO.Iterator // train split in file order, for the final report
	Valid      IO.Iterator
	Test       IO.Iterator

	State    *State
	Log      *TrainingLog // optional
	LastEval EvalStats
}

func New(cfg params.Config, m *model.Model, kb IO.KnowledgeBase, train, trainValid, valid, test IO.Iterator) (*Trainer, error) {
	opt, err := optimizations.New(cfg.Optimizer, m.Store)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		Config:     cfg,
		Model:      m,
		Optimizer:  opt,
		KB:         kb,
		Train:      train,
		TrainValid: trainValid,
		Valid:      valid,
		Test:       test,
		State:      NewState(cfg.LRate),
	}, nil
}

// Step runs one update on examples and returns the training cost and
// the global gradient norm before clipping. It returns IO.ErrEmptyBatch
// untouched when every example is filtered out.
func (t *Trainer) Step(examples []IO.Example) (cost, gradNorm float64, err error) {
	cfg := t.Config
	b, err := IO.PrepareBatch(examples, cfg.DimKB, t.KB, cfg.MaxLen)
	if err != nil {
		return 0, 0, err
	}
	out, err := t.Model.Forward(b, true)
	if err != nil {
		return 0, 0, err
	}
	grads, err := out.Gradients()
	if err != nil {
		return 0, 0, err
	}

	keys := t.Model.Store.Keys()
	ordered := make([]*mat.Dense, len(keys))
	for i, k := range keys {
		ordered[i] = grads[k]
	}
	gradNorm = utils.GlobalNorm(ordered...)
	if cfg.ClipC > 0 {
		utils.ClipGrads(cfg.ClipC, ordered...)
	}
	if err := t.Optimizer.Update(t.State.LRate, out.Loss, grads); err != nil {
		return out.Loss, gradNorm, err
	}
	return out.Loss, gradNorm, nil
}

// EvalStats describes the last Evaluate pass.
type EvalStats struct {
	Examples  int   // every example read, the accuracy denominator
	Dropped   int   // examples with an empty side, counted as wrong
	Relations int64 // knowledge relations found between the pairs
}

// Evaluate runs it once from the start without dropout and returns the
// mean cost over scored examples and the accuracy over all examples read.
// No length filter is applied.
func (t *Trainer) Evaluate(it IO.Iterator) (cost, acc float64, err error) {
	it.Reset()
	var stats EvalStats
	var correct int
	var costSum float64
	for {
		examples, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, err
		}
		stats.Examples += len(examples)
		b, err := IO.PrepareBatch(examples, t.Config.DimKB, t.KB, 0)
		if errors.Cause(err) == IO.ErrEmptyBatch {
			stats.Dropped += len(examples)
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		stats.Dropped += len(examples) - b.N
		stats.Relations += b.Relations
		out, err := t.Model.Forward(b, false)
		if err != nil {
			return 0, 0, err
		}
		for i, y := range out.Predictions() {
			costSum += out.Costs[i]
			if y == b.Labels[i] {
				correct++
			}
		}
	}
	t.LastEval = stats
	scored := stats.Examples - stats.Dropped
	if scored == 0 {
		return 0, 0, errors.New("evaluation set has no usable example")
	}
	if stats.Dropped > 0 {
		utils.Warnf("%d of %d examples have an empty side and count as wrong", stats.Dropped, stats.Examples)
	}
	cost = costSum / float64(scored)
	if utils.IsNonFinite(cost) {
		return cost, 0, errors.Wrapf(ErrNonFiniteValidation, "cost %v", cost)
	}
	return cost, float64(correct) / float64(stats.Examples), nil
}

func (t *Trainer) perEpoch(freq int) int {
	if freq > 0 {
		return freq
	}
	return max(t.Train.Batches(), 1)
}

// Save writes the best snapshot if there is one, otherwise the current
// parameters, with the validation history and the config.
func (t *Trainer) Save() error {
	snap := t.State.Best
	if snap == nil {
		snap = t.Model.Store.Snapshot()
	}
	return model.SaveCheckpoint(t.Config.SaveTo, t.Model.Store.Keys(), snap, t.State.HistoryErrs, t.Config)
}

// validate evaluates valid and test, applies the patience policy and
// reports whether training should stop.
func (t *Trainer) validate() (bool, error) {
	s := t.State
	validCost, validAcc, err := t.Evaluate(t.Valid)
	if err != nil {
		return true, err
	}
	validStats := t.LastEval
	testCost, testAcc, err := t.Evaluate(t.Test)
	if err != nil {
		return true, err
	}
	utils.Infof("valid cost %.5f acc %.4f | test cost %.5f acc %.4f | lrate %g | kb relations valid %d test %d",
		validCost, validAcc, testCost, testAcc, s.LRate, validStats.Relations, t.LastEval.Relations)
	s.ValidAccs = append(s.ValidAccs, validAcc)
	s.TestAccs = append(s.TestAccs, testAcc)
	if err := t.Log.Write(s, validCost, validAcc, testCost, testAcc); err != nil {
		utils.Warnf("training log: %v", err)
	}

	d := s.RecordValidation(1-validAcc, t.Config.Patience, t.Config.WaitN)
	if d.Improved {
		s.Best = t.Model.Store.Snapshot()
	}
	if d.Halved {
		utils.Infof("wait counter reached %d, bad counter %d, lrate halved to %g", t.Config.WaitN, s.Bad, s.LRate)
		if s.Best != nil {
			if err := t.Model.Store.Restore(s.Best); err != nil {
				return true, err
			}
		} else {
			utils.Warnf("no best parameters to restore yet")
		}
	}
	if d.Stop {
		utils.Infof("early stop after %d bad validations", s.Bad)
	}
	return d.Stop, nil
}

// Run trains until a stop condition, then restores the best parameters,
// reports on train/valid/test, saves the checkpoint and appends the
// summary record. A non-finite loss aborts without the final report.
func (t *Trainer) Run() (*Summary, error) {
	cfg := t.Config
	s := t.State
	validFreq := t.perEpoch(cfg.ValidFreq)
	saveFreq := t.perEpoch(cfg.SaveFreq)
	dispFreq := max(cfg.DispFreq, 1)

	for ; s.Epoch < cfg.MaxEpochs && s.Stop == Running; s.Epoch++ {
		t.Train.Reset()
		seen := 0
		for s.Stop == Running {
			examples, err := t.Train.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			seen += len(examples)
			s.Updates++

			start := time.Now()
			cost, norm, err := t.Step(examples)
			switch errors.Cause(err) {
			case nil:
			case IO.ErrEmptyBatch:
				utils.Warnf("minibatch with zero samples under length %d", cfg.MaxLen)
				s.Updates--
				continue
			case optimizations.ErrNonFiniteLoss:
				s.Stop = NonFiniteLoss
				return nil, errors.Wrapf(err, "epoch %d update %d", s.Epoch, s.Updates)
			default:
				return nil, err
			}

			if s.Updates%dispFreq == 0 {
				utils.Infof("epoch %d update %d cost %.6f ud %v", s.Epoch, s.Updates, cost, time.Since(start))
				if cfg.Verbose {
					utils.Debugf("grad norm %.6f", norm)
				}
			}
			if s.Updates%saveFreq == 0 {
				if err := t.Save(); err != nil {
					return nil, err
				}
				utils.Infof("saved %s", cfg.SaveTo)
			}
			if s.Updates%validFreq == 0 {
				stop, err := t.validate()
				if err != nil {
					return nil, err
				}
				if stop {
					break
				}
			}
			if s.Updates >= cfg.FinishAfter {
				utils.Infof("finishing after %d updates", s.Updates)
				s.Stop = UpdateBudgetExhausted
			}
		}
		utils.Infof("seen %d samples", seen)
		if s.Stop != Running {
			break
		}
	}
	if s.Stop == Running {
		s.Stop = EpochBudgetExhausted
	}
	return t.finish()
}

func (t *Trainer) finish() (*Summary, error) {
	s := t.State
	if s.Best != nil {
		if err := t.Model.Store.Restore(s.Best); err != nil {
			return nil, err
		}
	}
	sum := &Summary{
		Lambda:    t.Config.AttentionLambda,
		SaveTo:    t.Config.SaveTo,
		BestEpoch: s.BestEpoch,
		LRChanges: s.LRChanges,
		ValidAccs: s.ValidAccs,
		TestAccs:  s.TestAccs,
		Updates:   s.Updates,
		Stop:      s.Stop,
	}
	var err error
	if sum.TrainCost, sum.TrainAcc, err = t.Evaluate(t.TrainValid); err != nil {
		return nil, err
	}
	if sum.ValidCost, sum.ValidAcc, err = t.Evaluate(t.Valid); err != nil {
		return nil, err
	}
	if sum.TestCost, sum.TestAcc, err = t.Evaluate(t.Test); err != nil {
		return nil, err
	}
	utils.Infof("final (%s): train acc %.4f valid acc %.4f test acc %.4f", s.Stop, sum.TrainAcc, sum.ValidAcc, sum.TestAcc)

	if err := t.Save(); err != nil {
		return nil, err
	}
	if t.Config.RecordPath != "" {
		if err := sum.AppendRecord(t.Config.RecordPath); err != nil {
			return nil, err
		}
	}
	if t.Config.PlotPath != "" && len(s.ValidAccs) > 0 {
		if err := PlotHistory(t.Config.PlotPath, s.ValidAccs, s.TestAccs); err != nil {
			utils.Warnf("%v", err)
		}
	}
	return sum, nil
}
