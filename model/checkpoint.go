package model

import (
	"bytes"
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

type paramData struct {
	Name string
	R, C int
	Data []float64
}

type checkpointData struct {
	Params      []paramData
	HistoryErrs []float64
}

// Checkpoint is what a saved run holds besides its config record.
type Checkpoint struct {
	Params      Snapshot
	Keys        []string
	HistoryErrs []float64
}

// SaveCheckpoint writes params (in keys order) and the validation error
// history to path with gob, and cfg to params.OptionsPath(path).
func SaveCheckpoint(path string, keys []string, snap Snapshot, historyErrs []float64, cfg params.Config) error {
	data := checkpointData{HistoryErrs: append([]float64(nil), historyErrs...)}
	for _, k := range keys {
		m, ok := snap[k]
		if !ok {
			return errors.Errorf("save checkpoint: parameter %q missing", k)
		}
		r, c := m.Dims()
		data.Params = append(data.Params, paramData{
			Name: k, R: r, C: c,
			Data: append([]float64(nil), utils.Raw(m)...),
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write checkpoint %s", path)
	}
	return cfg.Save(params.OptionsPath(path))
}

// ReadCheckpoint decodes a file written by SaveCheckpoint.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read checkpoint %s", path)
	}
	var data checkpointData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	ck := &Checkpoint{Params: make(Snapshot, len(data.Params)), HistoryErrs: data.HistoryErrs}
	for _, p := range data.Params {
		if len(p.Data) != p.R*p.C {
			return nil, errors.Errorf("checkpoint %s: parameter %q has %d values for %dx%d", path, p.Name, len(p.Data), p.R, p.C)
		}
		ck.Params[p.Name] = mat.NewDense(p.R, p.C, p.Data)
		ck.Keys = append(ck.Keys, p.Name)
	}
	return ck, nil
}

// LoadInto copies the checkpointed values into s. Parameters of s that
// the checkpoint lacks keep their current values and are logged, as are
// checkpointed parameters the model does not use. Nothing is written if
// a shape differs or a value is NaN or infinite.
func (ck *Checkpoint) LoadInto(s *Store) error {
	for _, k := range ck.Keys {
		if !s.Has(k) {
			utils.Warnf("checkpoint parameter %s is not used by the model", k)
		}
	}
	for _, k := range s.Keys() {
		src, ok := ck.Params[k]
		if !ok {
			continue
		}
		r, c := s.Get(k).Dims()
		sr, sc := src.Dims()
		if r != sr || c != sc {
			return errors.Errorf("checkpoint parameter %q is %dx%d, model wants %dx%d", k, sr, sc, r, c)
		}
		if !utils.AllFinite(src) {
			return errors.Errorf("checkpoint parameter %q has non-finite values", k)
		}
	}
	for _, k := range s.Keys() {
		src, ok := ck.Params[k]
		if !ok {
			utils.Warnf("%s is not in the checkpoint", k)
			continue
		}
		s.Get(k).Copy(src)
	}
	return nil
}
