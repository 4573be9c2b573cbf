package IO

import (
	"bufio"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ksboy/NLP-External-knowledge/params"
)

// Iterator yields minibatches of examples until io.EOF. Reset starts a
// new pass.
type Iterator interface {
	Next() ([]Example, error)
	Reset()
	Len() int
	Batches() int
}

// SliceIterator walks examples held in memory, optionally in a new random
// order on every Reset.
type SliceIterator struct {
	examples  []Example
	order     []int
	batchSize int
	pos       int
	rng       *rand.Rand // nil keeps file order
}

func NewSliceIterator(examples []Example, batchSize int, rng *rand.Rand) *SliceIterator {
	it := &SliceIterator{examples: examples, batchSize: batchSize, rng: rng}
	it.order = make([]int, len(examples))
	for i := range it.order {
		it.order[i] = i
	}
	it.Reset()
	return it
}

func (it *SliceIterator) Reset() {
	it.pos = 0
	if it.rng != nil {
		it.rng.Shuffle(len(it.order), func(i, j int) {
			it.order[i], it.order[j] = it.order[j], it.order[i]
		})
	}
}

func (it *SliceIterator) Next() ([]Example, error) {
	if it.pos >= len(it.order) {
		return nil, io.EOF
	}
	end := min(it.pos+it.batchSize, len(it.order))
	out := make([]Example, 0, end-it.pos)
	for _, idx := range it.order[it.pos:end] {
		out = append(out, it.examples[idx])
	}
	it.pos = end
	return out, nil
}

// Len is the number of examples.
func (it *SliceIterator) Len() int { return len(it.examples) }

// Batches is the number of minibatches in one pass.
func (it *SliceIterator) Batches() int {
	return (len(it.examples) + it.batchSize - 1) / it.batchSize
}

// Labels maps label names to class ids. Numeric labels are accepted too.
var Labels = map[string]int{
	"entailment":    0,
	"neutral":       1,
	"contradiction": 2,
}

// LoadExamples reads the five line-aligned files of ds. Tokens are split
// on whitespace; words and lemmas outside the first nWords / nLemmas ids
// become params.UNKID.
func LoadExamples(ds params.Datasets, words, lemmas params.Vocabulary, nWords, nLemmas int) ([]Example, error) {
	premise, err := readLines(ds.Premise)
	if err != nil {
		return nil, err
	}
	hypothesis, err := readLines(ds.Hypothesis)
	if err != nil {
		return nil, err
	}
	premiseLemma, err := readLines(ds.PremiseLemma)
	if err != nil {
		return nil, err
	}
	hypothesisLemma, err := readLines(ds.HypothesisLemma)
	if err != nil {
		return nil, err
	}
	labels, err := readLines(ds.Label)
	if err != nil {
		return nil, err
	}
	n := len(premise)
	for _, other := range [][]string{hypothesis, premiseLemma, hypothesisLemma, labels} {
		if len(other) != n {
			return nil, errors.Errorf("dataset %s: files are not line-aligned (%d vs %d lines)", ds.Premise, n, len(other))
		}
	}

	out := make([]Example, n)
	for i := range out {
		y, err := parseLabel(labels[i])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", ds.Label, i+1)
		}
		out[i] = Example{
			Premise:         encode(premise[i], words, nWords),
			Hypothesis:      encode(hypothesis[i], words, nWords),
			PremiseLemma:    encode(premiseLemma[i], lemmas, nLemmas),
			HypothesisLemma: encode(hypothesisLemma[i], lemmas, nLemmas),
			Label:           y,
		}
	}
	return out, nil
}

func encode(line string, v params.Vocabulary, limit int) []int {
	toks := strings.Fields(line)
	ids := make([]int, len(toks))
	for i, tok := range toks {
		ids[i] = v.Lookup(tok, limit)
	}
	return ids
}

func parseLabel(s string) (int, error) {
	s = strings.TrimSpace(s)
	if y, ok := Labels[strings.ToLower(s)]; ok {
		return y, nil
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 0 || y > 2 {
		return 0, errors.Errorf("bad label %q", s)
	}
	return y, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, errors.Wrapf(sc.Err(), "read %s", path)
}
