package image_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/asyncexec/pkg/image"
)

func TestReadFunctionSizesRegistersAndKernels(t *testing.T) {
	img := image.New()
	b := image.NewBuilder(1)
	step := b.AddKernel(1, 0, 0, []uint32{0}, nil, nil, 1)
	b.SetResults(step[0])
	img.AddFunction(10, b.Build())

	decoded, err := img.ReadFunction(10)
	require.NoError(t, err)
	require.Len(t, decoded.Registers, 2)
	require.Len(t, decoded.Kernels, 2)
	// Kernel 0, the arguments pseudo-kernel, never has its counter
	// initialized; kernel 1 does, to 1+numArguments = 2.
	require.EqualValues(t, 0, decoded.Kernels[0].ArgumentsNotReady.Load())
	require.EqualValues(t, 2, decoded.Kernels[1].ArgumentsNotReady.Load())
	require.Equal(t, step, decoded.ResultRegs)
}

func TestReadFunctionUnknownOffset(t *testing.T) {
	img := image.New()
	_, err := img.ReadFunction(99)
	require.Error(t, err)
}

func TestDecodeLocation(t *testing.T) {
	img := image.New()
	img.AddLocation(5, "file.mlir:3:7")
	loc, err := img.DecodeLocation(5)
	require.NoError(t, err)
	require.Equal(t, "file.mlir:3:7", loc)

	_, err = img.DecodeLocation(6)
	require.Error(t, err)
}

func TestSubFunctionLookup(t *testing.T) {
	img := image.New()
	img.AddSubFunction(0, "then-branch")
	h, ok := img.SubFunction(0)
	require.True(t, ok)
	require.Equal(t, "then-branch", h)

	_, ok = img.SubFunction(1)
	require.False(t, ok)
}
