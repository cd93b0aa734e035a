// Command asyncexec-demo builds a small hand-wired function image and runs
// it through the executor core, printing the resulting values. It exists
// to give the dataflow engine an end-to-end smoke test outside of the
// package test suites; see SPEC_FULL.md §10.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/asyncexec/internal/toykernels"
	"github.com/gomlx/asyncexec/pkg/asyncvalue"
	"github.com/gomlx/asyncexec/pkg/executor"
	"github.com/gomlx/asyncexec/pkg/hostctx"
	"github.com/gomlx/asyncexec/pkg/image"
)

var flagScenario = flag.String("scenario", "chain", "Which demo function to run: chain, fanout, error.")

func main() {
	flag.Parse()
	klog.InitFlags(nil)

	start := time.Now()
	var results []*asyncvalue.AsyncValue
	var descriptorName string
	var numKernels int
	switch *flagScenario {
	case "chain":
		descriptorName, numKernels, results = must.M3(runChain())
	case "fanout":
		descriptorName, numKernels, results = must.M3(runFanout())
	case "error":
		descriptorName, numKernels, results = must.M3(runError())
	default:
		klog.Errorf("unknown -scenario %q", *flagScenario)
		os.Exit(1)
	}

	for _, v := range results {
		asyncvalue.Await(v)
	}

	fmt.Printf("ran %q (%s kernels) in %s:\n", descriptorName, humanize.Comma(int64(numKernels)), humanize.RelTime(start, time.Now(), "", ""))
	for i, v := range results {
		if v.IsError() {
			fmt.Printf("  result[%d] = error: %v\n", i, v.Error())
			continue
		}
		fmt.Printf("  result[%d] = %v\n", i, v.Payload())
	}
}

// runChain builds add1(add1(const(40))) -- a purely synchronous chain.
func runChain() (string, int, []*asyncvalue.AsyncValue, error) {
	img := image.New()
	attr := img.AddAttribute(toykernels.EncodeIntAttr(40))

	b := image.NewBuilder(0)
	constResult := b.AddKernel(toykernels.CodeConst, 0, 0, nil, []uint32{attr}, nil, 1)
	step1 := b.AddKernel(toykernels.CodeAdd1, 0, 0, constResult, nil, nil, 1)
	step2 := b.AddKernel(toykernels.CodeAdd1, 0, 0, step1, nil, nil, 1)
	b.SetResults(step2[0])
	fn := b.Build()
	img.AddFunction(0, fn)

	descriptor := image.Descriptor{FunctionOffset: 0, ResultTypes: []string{"int"}, Name: "chain"}
	host := hostctx.New()
	registry := toykernels.NewRegistry(host)
	results, err := executor.Execute(host, registry, img, descriptor, nil)
	return descriptor.Name, len(fn.KernelOffsets), results, err
}

// runFanout builds a function with one argument shared (via share_to_two)
// into a copy_with_delay kernel and an add1 kernel whose results are
// summed, exercising the asynchronous copy_with_delay kernel on one branch.
func runFanout() (string, int, []*asyncvalue.AsyncValue, error) {
	img := image.New()

	b := image.NewBuilder(1)
	shared := b.AddKernel(toykernels.CodeShareToTwo, 0, 0, []uint32{0}, nil, nil, 2)
	delayed := b.AddKernel(toykernels.CodeCopyWithDelay, 0, 0, []uint32{shared[0]}, nil, nil, 1)
	incremented := b.AddKernel(toykernels.CodeAdd1, 0, 0, []uint32{shared[1]}, nil, nil, 1)
	sum := b.AddKernel(toykernels.CodeSum, 0, 0, []uint32{delayed[0], incremented[0]}, nil, nil, 1)
	b.SetResults(sum[0])
	fn := b.Build()
	img.AddFunction(0, fn)

	descriptor := image.Descriptor{FunctionOffset: 0, ArgumentTypes: []string{"int"}, ResultTypes: []string{"int"}, Name: "fanout"}
	host := hostctx.New()
	registry := toykernels.NewRegistry(host)
	results, err := executor.Execute(host, registry, img, descriptor, []*asyncvalue.AsyncValue{asyncvalue.New(10)})
	return descriptor.Name, len(fn.KernelOffsets), results, err
}

// runError builds add1(fail()), demonstrating strict error propagation: a
// strict kernel downstream of an errored input never runs, it just
// forwards the error into its own results.
func runError() (string, int, []*asyncvalue.AsyncValue, error) {
	img := image.New()

	b := image.NewBuilder(0)
	failed := b.AddKernel(toykernels.CodeFail, 0, 0, nil, nil, nil, 1)
	propagated := b.AddKernel(toykernels.CodeAdd1, 0, 0, failed, nil, nil, 1)
	b.SetResults(propagated[0])
	fn := b.Build()
	img.AddFunction(0, fn)

	descriptor := image.Descriptor{FunctionOffset: 0, ResultTypes: []string{"int"}, Name: "error"}
	host := hostctx.New()
	registry := toykernels.NewRegistry(host)
	results, err := executor.Execute(host, registry, img, descriptor, nil)
	return descriptor.Name, len(fn.KernelOffsets), results, err
}
