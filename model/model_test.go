package model

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/IO"
	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

func testConfig() params.Config {
	cfg := params.Default()
	cfg.DimWord = 4
	cfg.Dim = 3
	cfg.DimKB = 2
	cfg.NWords = 20
	cfg.NWordsLemma = 20
	cfg.KBInference = true
	cfg.KBComposition = true
	cfg.AttentionLambda = 1
	return cfg
}

// twoExampleBatch has premise lengths {3,5}, hypothesis lengths {4,2} and
// one relation between premise lemma 7 and hypothesis lemma 9.
func twoExampleBatch(t *testing.T, dimKB int) *IO.Batch {
	t.Helper()
	kb := make(IO.KnowledgeBase)
	kb.Add(7, 9, []float64{0.5, 1}[:dimKB])
	examples := []IO.Example{
		{
			Premise: []int{2, 3, 4}, PremiseLemma: []int{7, 3, 4},
			Hypothesis: []int{5, 6, 2, 8}, HypothesisLemma: []int{5, 9, 2, 8},
			Label: 0,
		},
		{
			Premise: []int{9, 10, 11, 12, 13}, PremiseLemma: []int{9, 10, 11, 12, 13},
			Hypothesis: []int{14, 15}, HypothesisLemma: []int{14, 15},
			Label: 1,
		},
	}
	b, err := IO.PrepareBatch(examples, dimKB, kb, 0)
	if err != nil {
		t.Fatalf("PrepareBatch: %v", err)
	}
	return b
}

func checkRowsSumToOne(t *testing.T, name string, m *mat.Dense) {
	t.Helper()
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		if s := floats.Sum(m.RawRowView(i)); math.Abs(s-1) > 1e-5 {
			t.Fatalf("%s row %d sums to %v", name, i, s)
		}
	}
}

func TestForwardTwoExampleBatch(t *testing.T) {
	cfg := testConfig()
	m := New(cfg, utils.NewRand(1))
	b := twoExampleBatch(t, cfg.DimKB)

	out, err := m.Forward(b, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	r, c := out.Probs.Dims()
	if r != 2 || c != NumClasses {
		t.Fatalf("probs are %dx%d, want 2x3", r, c)
	}
	checkRowsSumToOne(t, "probs", out.Probs)

	for i := 0; i < b.N; i++ {
		ar, ac := out.Alpha[i].Dims()
		if ar != b.PremiseLen[i] || ac != b.HypothesisLen[i] {
			t.Fatalf("alpha[%d] is %dx%d", i, ar, ac)
		}
		checkRowsSumToOne(t, "alpha", out.Alpha[i])
		checkRowsSumToOne(t, "beta", out.Beta[i])
	}
	if math.IsNaN(out.Loss) || out.Loss <= 0 {
		t.Fatalf("loss = %v", out.Loss)
	}
	if len(out.Predictions()) != 2 {
		t.Fatalf("got %d predictions", len(out.Predictions()))
	}
}

func TestKnowledgeBiasShiftsAttention(t *testing.T) {
	cfg := testConfig()
	b := twoExampleBatch(t, cfg.DimKB)

	cfg.AttentionLambda = 0
	plain, err := New(cfg, utils.NewRand(3)).Forward(b, false)
	if err != nil {
		t.Fatal(err)
	}
	cfg.AttentionLambda = 5
	biased, err := New(cfg, utils.NewRand(3)).Forward(b, false)
	if err != nil {
		t.Fatal(err)
	}
	// Premise position 0 of example 0 relates to hypothesis position 1.
	if biased.Alpha[0].At(0, 1) <= plain.Alpha[0].At(0, 1) {
		t.Fatalf("lambda did not raise the related weight: %v <= %v",
			biased.Alpha[0].At(0, 1), plain.Alpha[0].At(0, 1))
	}
}

func TestForwardWithoutKnowledge(t *testing.T) {
	cfg := testConfig()
	cfg.KBInference = false
	cfg.KBComposition = false
	cfg.AttentionLambda = 0
	cfg.UseDropout = true
	m := New(cfg, utils.NewRand(2))
	if m.Store.Has("gated_att_W") {
		t.Fatal("gate parameters created without knowledge composition")
	}
	b := twoExampleBatch(t, 1)

	first, err := m.Forward(b, false)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := m.Forward(b, false)
	if !mat.Equal(first.Probs, second.Probs) {
		t.Fatal("evaluation passes with dropout are not deterministic")
	}
	checkRowsSumToOne(t, "probs", first.Probs)
	if _, err := first.Gradients(); err == nil {
		t.Fatal("expected an error asking for gradients of an evaluation pass")
	}
}

func TestTrainingDropoutDrawsFreshMasks(t *testing.T) {
	cfg := testConfig()
	cfg.UseDropout = true
	m := New(cfg, utils.NewRand(4))
	b := twoExampleBatch(t, cfg.DimKB)

	first, err := m.Forward(b, true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Forward(b, true)
	if err != nil {
		t.Fatal(err)
	}
	if first.Loss == second.Loss {
		t.Fatalf("two training passes share a dropout mask (loss %v)", first.Loss)
	}
	if _, err := second.Gradients(); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotRestoreIsIdentity(t *testing.T) {
	m := New(testConfig(), utils.NewRand(4))
	snap := m.Store.Snapshot()
	for _, k := range m.Store.Keys() {
		m.Store.Get(k).Scale(3, m.Store.Get(k))
	}
	if err := m.Store.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	again := m.Store.Snapshot()
	for _, k := range m.Store.Keys() {
		if !mat.Equal(snap[k], again[k]) {
			t.Fatalf("%s differs after restore", k)
		}
	}

	snap["ff_layer_output_b"] = mat.NewDense(1, 4, nil)
	if err := m.Store.Restore(snap); err == nil {
		t.Fatal("expected a shape error")
	}
	delete(snap, "ff_layer_output_b")
	if err := m.Store.Restore(snap); err == nil {
		t.Fatal("expected a missing-key error")
	}
}

func TestCheckpointReloadReproducesProbs(t *testing.T) {
	cfg := testConfig()
	cfg.SaveTo = filepath.Join(t.TempDir(), "kim.gob")
	m := New(cfg, utils.NewRand(5))
	b := twoExampleBatch(t, cfg.DimKB)
	before, err := m.Forward(b, false)
	if err != nil {
		t.Fatal(err)
	}

	history := []float64{0.6, 0.5}
	if err := SaveCheckpoint(cfg.SaveTo, m.Store.Keys(), m.Store.Snapshot(), history, cfg); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	ck, err := ReadCheckpoint(cfg.SaveTo)
	if err != nil {
		t.Fatalf("ReadCheckpoint: %v", err)
	}
	reloadedCfg, err := params.Load(params.OptionsPath(cfg.SaveTo))
	if err != nil {
		t.Fatalf("load options: %v", err)
	}
	if reloadedCfg != cfg {
		t.Fatalf("options differ after reload:\n%+v\n%+v", reloadedCfg, cfg)
	}

	fresh := New(reloadedCfg, utils.NewRand(99))
	if err := ck.LoadInto(fresh.Store); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	after, err := fresh.Forward(b, false)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(before.Probs, after.Probs) {
		t.Fatalf("probs changed after reload:\n%v\n%v", mat.Formatted(before.Probs), mat.Formatted(after.Probs))
	}
	if len(ck.HistoryErrs) != 2 || ck.HistoryErrs[1] != 0.5 {
		t.Fatalf("history = %v", ck.HistoryErrs)
	}
	if len(ck.Keys) != m.Store.Len() || ck.Keys[0] != "Wemb" {
		t.Fatalf("keys = %v", ck.Keys)
	}
}

func TestLoadIntoRejectsBadCheckpoints(t *testing.T) {
	cfg := testConfig()
	m := New(cfg, utils.NewRand(6))
	keep := m.Store.Snapshot()
	fromOther := New(cfg, utils.NewRand(7)).Store.Snapshot()

	t.Run("non-finite value", func(t *testing.T) {
		bad := Snapshot{}
		for k, v := range fromOther {
			bad[k] = mat.DenseCopyOf(v)
		}
		bad["decoder_U"].Set(0, 0, math.Inf(1))
		ck := &Checkpoint{Params: bad, Keys: m.Store.Keys()}
		if err := ck.LoadInto(m.Store); err == nil {
			t.Fatal("expected an error for an infinite parameter")
		}
		for _, k := range m.Store.Keys() {
			if !mat.Equal(m.Store.Get(k), keep[k]) {
				t.Fatalf("%s was written by a rejected checkpoint", k)
			}
		}
	})
	t.Run("unused parameter", func(t *testing.T) {
		extra := Snapshot{"legacy_W": mat.NewDense(2, 2, nil)}
		for k, v := range fromOther {
			extra[k] = v
		}
		ck := &Checkpoint{Params: extra, Keys: append(m.Store.Keys(), "legacy_W")}
		if err := ck.LoadInto(m.Store); err != nil {
			t.Fatalf("LoadInto: %v", err)
		}
		if !mat.Equal(m.Store.Get("Wemb"), fromOther["Wemb"]) || m.Store.Has("legacy_W") {
			t.Fatal("checkpoint not loaded as expected")
		}
	})
}

func TestGradientsMatchFiniteDifference(t *testing.T) {
	cfg := testConfig()
	cfg.DecayC = 1e-3
	m := New(cfg, utils.NewRand(6))
	rng := utils.NewRand(7)
	for _, k := range m.Store.Keys() {
		p := m.Store.Get(k)
		r, c := p.Dims()
		p.Copy(mat.NewDense(r, c, utils.RandNormal(rng, r*c, 0.5)))
	}
	b := twoExampleBatch(t, cfg.DimKB)

	out, err := m.Forward(b, true)
	if err != nil {
		t.Fatal(err)
	}
	grads, err := out.Gradients()
	if err != nil {
		t.Fatal(err)
	}
	loss := func() float64 {
		o, err := m.Forward(b, true)
		if err != nil {
			t.Fatal(err)
		}
		return o.Loss
	}

	cases := []struct {
		key  string
		i, j int
	}{
		{"Wemb", 3, 1},
		{"Wemb", 15, 0},
		{"encoder_W", 2, 5},
		{"encoder_r_U", 1, 7},
		{"decoder_W", 4, 2},
		{"decoder_r_b", 0, 9},
		{"projection_W", 10, 1},
		{"gated_att_W", 1, 0},
		{"ff_layer_1_W", 20, 2},
		{"ff_layer_output_b", 0, 2},
	}
	const eps = 1e-6
	for _, tc := range cases {
		p := m.Store.Get(tc.key)
		w0 := p.At(tc.i, tc.j)
		p.Set(tc.i, tc.j, w0+eps)
		lp := loss()
		p.Set(tc.i, tc.j, w0-eps)
		lm := loss()
		p.Set(tc.i, tc.j, w0)

		num := (lp - lm) / (2 * eps)
		ana := grads[tc.key].At(tc.i, tc.j)
		if math.Abs(num-ana) > 1e-6+1e-4*math.Abs(num) {
			t.Errorf("%s[%d,%d]: num=%.8g ana=%.8g", tc.key, tc.i, tc.j, num, ana)
		}
	}
	for _, k := range m.Store.Keys() {
		if grads[k] == nil {
			t.Fatalf("no gradient for %s", k)
		}
	}
}
