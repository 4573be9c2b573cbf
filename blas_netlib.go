//go:build netlib

package main

// Build with `-tags netlib` and CGO_LDFLAGS pointing at a system BLAS
// (e.g. "-lopenblas" or "-framework Accelerate") to route every gonum
// matrix product in the model through it.

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas64.Use(netlib.Implementation{})
}
