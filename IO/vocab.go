package IO

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/ksboy/NLP-External-knowledge/params"
)

// LoadVocabulary reads a dictionary in one of three JSON shapes:
//
//	{"TokenToID": {...}, "IDToToken": [...]}   exported vocabulary
//	{"the": 2, "a": 3, ...}                    flat token -> id map
//	tokenizer.json                             HuggingFace tokenizer file
//
// Ids are kept as given; the dataset's dictionaries reserve 0 and 1.
func LoadVocabulary(path string) (params.Vocabulary, error) {
	if strings.HasSuffix(filepath.Base(path), "tokenizer.json") {
		return loadTokenizerVocab(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return params.Vocabulary{}, errors.Wrapf(err, "read dictionary %s", path)
	}

	var exported params.Vocabulary
	if err := json.Unmarshal(raw, &exported); err == nil && len(exported.TokenToID) > 0 {
		if len(exported.IDToToken) == 0 {
			exported.IDToToken = invert(exported.TokenToID)
		}
		return exported, nil
	}

	var flat map[string]int
	if err := json.Unmarshal(raw, &flat); err != nil {
		return params.Vocabulary{}, errors.Wrapf(err, "decode dictionary %s", path)
	}
	if len(flat) == 0 {
		return params.Vocabulary{}, errors.Errorf("dictionary %s is empty", path)
	}
	return params.Vocabulary{TokenToID: flat, IDToToken: invert(flat)}, nil
}

func loadTokenizerVocab(path string) (params.Vocabulary, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return params.Vocabulary{}, errors.Wrapf(err, "load tokenizer %s", path)
	}
	vocab := tk.GetVocab(true)
	if len(vocab) == 0 {
		return params.Vocabulary{}, errors.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return params.Vocabulary{TokenToID: vocab, IDToToken: invert(vocab)}, nil
}

// invert builds the id -> token table; unused ids map to "".
func invert(tokenToID map[string]int) []string {
	size := 0
	for _, id := range tokenToID {
		size = max(size, id+1)
	}
	out := make([]string, size)
	for tok, id := range tokenToID {
		if id >= 0 {
			out[id] = tok
		}
	}
	return out
}

// SaveVocabulary writes v in the exported shape.
func SaveVocabulary(path string, v params.Vocabulary) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create dictionary %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrapf(enc.Encode(v), "encode dictionary %s", path)
}
