package params

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Vocabulary maps surface tokens (or lemmas) to dense ids.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string
}

// Reserved ids. 0 doubles as padding and end-of-sequence.
const (
	EOSID = 0
	UNKID = 1
)

// Lookup returns the id of tok, or UNKID when tok is unknown or its id is
// outside the first limit entries (limit <= 0 disables the cutoff).
func (v Vocabulary) Lookup(tok string, limit int) int {
	id, ok := v.TokenToID[tok]
	if !ok {
		return UNKID
	}
	if limit > 0 && id >= limit {
		return UNKID
	}
	return id
}

// Datasets groups the five line-aligned files of one split.
type Datasets struct {
	Premise         string `json:"premise"`
	Hypothesis      string `json:"hypothesis"`
	PremiseLemma    string `json:"premise_lemma"`
	HypothesisLemma string `json:"hypothesis_lemma"`
	Label           string `json:"label"`
}

// Config carries every hyperparameter of a training run. It is persisted
// next to each checkpoint so a run can be resumed without its command
// line.
type Config struct {
	// Model width
	DimWord int `json:"dim_word"` // word vector dimensionality
	Dim     int `json:"dim"`      // recurrent units per direction
	DimKB   int `json:"dim_kb"`   // knowledge feature length

	Encoder LayerKind `json:"encoder"`
	Decoder LayerKind `json:"decoder"`

	KBInference     bool    `json:"kb_inference"`
	KBComposition   bool    `json:"kb_composition"`
	AttentionLambda float64 `json:"attention_lambda"`
	UseDropout      bool    `json:"use_dropout"`

	// Optimization
	Optimizer   OptimizerKind `json:"optimizer"`
	LRate       float64       `json:"lrate"`
	DecayC      float64       `json:"decay_c"` // L2 penalty, 0 disables
	ClipC       float64       `json:"clip_c"`  // <=0 disables
	Patience    int           `json:"patience"`
	WaitN       int           `json:"wait_n"`
	MaxEpochs   int           `json:"max_epochs"`
	FinishAfter int           `json:"finish_after"` // update budget

	// Data
	NWords         int      `json:"n_words"`
	NWordsLemma    int      `json:"n_words_lemma"`
	MaxLen         int      `json:"maxlen"`
	BatchSize      int      `json:"batch_size"`
	ValidBatchSize int      `json:"valid_batch_size"`
	Train          Datasets `json:"datasets"`
	Valid          Datasets `json:"valid_datasets"`
	Test           Datasets `json:"test_datasets"`
	Dictionary     string   `json:"dictionary"`
	LemmaDict      string   `json:"lemma_dictionary"`
	KBDict         string   `json:"kb_dict"`
	Embedding      string   `json:"embedding"` // optional GloVe-style file

	// Bookkeeping
	SaveTo     string `json:"saveto"`
	DispFreq   int    `json:"disp_freq"`
	ValidFreq  int    `json:"valid_freq"` // -1 = once per epoch
	SaveFreq   int    `json:"save_freq"`  // -1 = once per epoch
	Reload     bool   `json:"reload"`
	Verbose    bool   `json:"verbose"`
	Seed       uint64 `json:"seed"`
	RecordPath string `json:"record_path"`
	LogPath    string `json:"log_path"`
	PlotPath   string `json:"plot_path"`
}

// Default returns the stock hyperparameters.
func Default() Config {
	return Config{
		DimWord: 100,
		Dim:     100,
		DimKB:   5,

		Encoder: LSTM,
		Decoder: LSTM,

		KBInference:     true,
		KBComposition:   false,
		AttentionLambda: 0,

		Optimizer:   AdaDelta,
		LRate:       0.01,
		ClipC:       -1,
		Patience:    10,
		WaitN:       1,
		MaxEpochs:   5000,
		FinishAfter: 10000000,

		NWords:         100000,
		NWordsLemma:    100000,
		MaxLen:         100,
		BatchSize:      16,
		ValidBatchSize: 16,

		SaveTo:     "model.gob",
		DispFreq:   100,
		ValidFreq:  1000,
		SaveFreq:   1000,
		Seed:       1234,
		RecordPath: "record.csv",
		LogPath:    "training_log.csv",
	}
}

// Validate rejects configurations that cannot start a run.
func (c Config) Validate() error {
	switch {
	case c.DimWord <= 0 || c.Dim <= 0:
		return errors.Errorf("dimensions must be positive (dim_word=%d, dim=%d)", c.DimWord, c.Dim)
	case (c.KBInference || c.KBComposition || c.AttentionLambda != 0) && c.DimKB <= 0:
		return errors.Errorf("dim_kb must be positive when knowledge is used (got %d)", c.DimKB)
	case c.NWords <= 2:
		return errors.Errorf("n_words must leave room for reserved ids (got %d)", c.NWords)
	case c.BatchSize <= 0 || c.ValidBatchSize <= 0:
		return errors.New("batch sizes must be positive")
	case c.WaitN <= 0:
		return errors.Errorf("wait_n must be positive (got %d)", c.WaitN)
	case c.Encoder != LSTM || c.Decoder != LSTM:
		return errors.New("encoder and decoder must be lstm layers")
	case c.SaveTo == "":
		return errors.New("saveto is empty")
	}
	return nil
}

// OptionsPath is where the config record of the checkpoint at saveto lives.
func OptionsPath(saveto string) string {
	return saveto + ".json"
}

// Save writes c as indented JSON.
func (c Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create options %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return errors.Wrapf(err, "encode options %s", path)
	}
	return nil
}

// Load reads a config written by Save. Fields missing from the file keep
// their Default values.
func Load(path string) (Config, error) {
	c := Default()
	f, err := os.Open(path)
	if err != nil {
		return c, errors.Wrapf(err, "open options %s", path)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return c, errors.Wrapf(err, "decode options %s", path)
	}
	return c, nil
}
