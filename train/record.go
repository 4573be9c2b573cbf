package train

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Summary is the final report of a run.
type Summary struct {
	Lambda    float64
	SaveTo    string
	BestEpoch int
	LRChanges []int
	ValidAccs []float64
	TestAccs  []float64

	TrainAcc, ValidAcc, TestAcc    float64
	TrainCost, ValidCost, TestCost float64

	Updates int
	Stop    StopReason
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinFloats(vs []float64, sep string) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, sep)
}

// Lines renders the summary as the seven record lines: lambda, checkpoint
// name, best epoch, LR-change epochs, valid accuracies, test accuracies
// and tab-separated final train/valid/test accuracies.
func (s Summary) Lines() []string {
	changes := make([]string, len(s.LRChanges))
	for i, e := range s.LRChanges {
		changes[i] = strconv.Itoa(e)
	}
	return []string{
		formatFloat(s.Lambda),
		s.SaveTo,
		strconv.Itoa(s.BestEpoch),
		strings.Join(changes, ","),
		joinFloats(s.ValidAccs, ","),
		joinFloats(s.TestAccs, ","),
		joinFloats([]float64{s.TrainAcc, s.ValidAcc, s.TestAcc}, "\t"),
	}
}

// AppendRecord appends the summary lines to the record file at path.
func (s Summary) AppendRecord(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open record %s", path)
	}
	defer f.Close()
	for _, line := range s.Lines() {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return errors.Wrapf(err, "write record %s", path)
		}
	}
	return nil
}

// TrainingLog writes one CSV row per validation.
type TrainingLog struct {
	f *os.File
	w *csv.Writer
}

func NewTrainingLog(path string) (*TrainingLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create training log %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"update", "epoch", "valid_cost", "valid_acc", "test_cost", "test_acc", "lrate"}); err != nil {
		f.Close()
		return nil, err
	}
	return &TrainingLog{f: f, w: w}, nil
}

func (l *TrainingLog) Write(s *State, validCost, validAcc, testCost, testAcc float64) error {
	if l == nil {
		return nil
	}
	row := []string{
		strconv.Itoa(s.Updates), strconv.Itoa(s.Epoch),
		formatFloat(validCost), formatFloat(validAcc),
		formatFloat(testCost), formatFloat(testAcc),
		formatFloat(s.LRate),
	}
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *TrainingLog) Close() error {
	if l == nil {
		return nil
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// PlotHistory draws validation and test accuracy per validation round
// to a PNG at path.
func PlotHistory(path string, validAccs, testAccs []float64) error {
	p := plot.New()
	p.Title.Text = "accuracy per validation"
	p.X.Label.Text = "validation"
	p.Y.Label.Text = "accuracy"

	if err := plotutil.AddLinePoints(p,
		"valid", points(validAccs),
		"test", points(testAccs),
	); err != nil {
		return errors.Wrap(err, "plot accuracy")
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 5*vg.Inch, path), "save plot %s", path)
}

func points(vs []float64) plotter.XYs {
	pts := make(plotter.XYs, len(vs))
	for i, v := range vs {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	return pts
}

// ASCIIHistory renders accuracies in [0,1] as a bar chart of height rows,
// one column per validation, with a tick every fifth column.
func ASCIIHistory(accs []float64, height int) string {
	if len(accs) == 0 {
		return "no validation yet\n"
	}
	var sb strings.Builder
	for row := height; row >= 1; row-- {
		level := float64(row) / float64(height)
		for _, v := range accs {
			if v >= level {
				sb.WriteRune('█')
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(strings.Repeat("─", len(accs)))
	sb.WriteByte('\n')
	for i := range accs {
		if i%5 == 0 {
			sb.WriteString(strconv.Itoa(i % 10))
		} else {
			sb.WriteByte(' ')
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}
