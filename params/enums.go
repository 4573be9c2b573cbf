package params

import (
	"strings"

	"github.com/pkg/errors"
)

// OptimizerKind selects a parameter update rule.
type OptimizerKind int

const (
	SGD OptimizerKind = iota
	RMSProp
	AdaDelta
	Adam
)

var optimizerNames = map[OptimizerKind]string{
	SGD:      "sgd",
	RMSProp:  "rmsprop",
	AdaDelta: "adadelta",
	Adam:     "adam",
}

func (k OptimizerKind) String() string {
	if s, ok := optimizerNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseOptimizer resolves a name such as "adam" to its kind.
func ParseOptimizer(name string) (OptimizerKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, s := range optimizerNames {
		if s == name {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown optimizer %q", name)
}

func (k OptimizerKind) MarshalText() ([]byte, error) {
	if _, ok := optimizerNames[k]; !ok {
		return nil, errors.Errorf("unknown optimizer kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *OptimizerKind) UnmarshalText(b []byte) error {
	v, err := ParseOptimizer(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// LayerKind names the building block used by encoder and decoder.
type LayerKind int

const (
	Feedforward LayerKind = iota
	LSTM
)

func (k LayerKind) String() string {
	switch k {
	case Feedforward:
		return "ff"
	case LSTM:
		return "lstm"
	}
	return "unknown"
}

func (k LayerKind) MarshalText() ([]byte, error) {
	if k != Feedforward && k != LSTM {
		return nil, errors.Errorf("unknown layer kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *LayerKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "ff":
		*k = Feedforward
	case "lstm":
		*k = LSTM
	default:
		return errors.Errorf("unknown layer %q", string(b))
	}
	return nil
}

// Activation is the point-wise nonlinearity of a feedforward layer.
type Activation int

const (
	Linear Activation = iota
	Tanh
	ReLU
	Sigmoid
)

func (a Activation) String() string {
	switch a {
	case Linear:
		return "linear"
	case Tanh:
		return "tanh"
	case ReLU:
		return "relu"
	case Sigmoid:
		return "sigmoid"
	}
	return "unknown"
}
