package IO

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

// KnowledgeBase maps a source lemma id to target lemma ids and the
// feature vector of their relation. A missing entry means no known
// relation.
type KnowledgeBase map[int]map[int][]float64

func (kb KnowledgeBase) Lookup(src, tgt int) ([]float64, bool) {
	row, ok := kb[src]
	if !ok {
		return nil, false
	}
	feat, ok := row[tgt]
	return feat, ok
}

func (kb KnowledgeBase) Add(src, tgt int, feat []float64) {
	row, ok := kb[src]
	if !ok {
		row = make(map[int][]float64)
		kb[src] = row
	}
	row[tgt] = feat
}

// Len is the number of relations.
func (kb KnowledgeBase) Len() int {
	total := 0
	for _, row := range kb {
		total += len(row)
	}
	return total
}

// LoadKnowledge reads one relation per line, "src tgt f1 ... fK", with
// lemmas resolved through lemmas. Relations touching a lemma outside the
// first limit ids are dropped. A line with other than dimKB features is
// an error.
func LoadKnowledge(path string, lemmas params.Vocabulary, limit, dimKB int) (KnowledgeBase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open knowledge base %s", path)
	}
	defer f.Close()

	kb := make(KnowledgeBase)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<20)
	lineNo, skipped := 0, 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2+dimKB {
			return nil, errors.Errorf("%s:%d: want 2 lemmas and %d features, got %d fields", path, lineNo, dimKB, len(fields))
		}
		src := lemmas.Lookup(fields[0], limit)
		tgt := lemmas.Lookup(fields[1], limit)
		if src == params.UNKID || tgt == params.UNKID {
			skipped++
			continue
		}
		feat := make([]float64, dimKB)
		for k, s := range fields[2:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: feature %d", path, lineNo, k)
			}
			feat[k] = v
		}
		kb.Add(src, tgt, feat)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read knowledge base %s", path)
	}
	utils.Debugf("knowledge base %s: %d relations, %d skipped", path, kb.Len(), skipped)
	return kb, nil
}
