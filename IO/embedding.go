package IO

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
)

// LoadEmbedding overwrites rows of wemb with pretrained vectors from a
// GloVe-style text file ("word v1 ... vD" per line). Only words whose id
// is below nWords and whose vector width matches wemb are used. It
// returns the number of rows written.
func LoadEmbedding(path string, words params.Vocabulary, nWords int, wemb *mat.Dense) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open embedding %s", path)
	}
	defer f.Close()

	_, dim := wemb.Dims()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<24)
	written, lineNo := 0, 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) != dim+1 {
			continue
		}
		id, ok := words.TokenToID[fields[0]]
		if !ok || id >= nWords {
			continue
		}
		row := wemb.RawRowView(id)
		vec := make([]float64, dim)
		for j, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return written, errors.Wrapf(err, "%s:%d: malformed vector", path, lineNo)
			}
			vec[j] = v
		}
		copy(row, vec)
		written++
	}
	if err := sc.Err(); err != nil {
		return written, errors.Wrapf(err, "read embedding %s", path)
	}
	return written, nil
}
