package lang

import "context"

// RunOptions configures a single Execute call.
type RunOptions struct {
	Host          Host
	Print         func(string)
	Trace         func(TraceEvent)
	MaxStackDepth int
	MaxCallDepth  int
}

// Execute compiles src and runs it to completion in one step. RunProgram
// is the equivalent entrypoint for an already-compiled Program, and is
// what the CLI's `run` and `runbytecode` subcommands call.
func Execute(ctx context.Context, src []byte, file string, resolver IncludeResolver, opts RunOptions) error {
	prog, err := Compile(src, file, resolver)
	if err != nil {
		return err
	}
	return RunProgram(ctx, prog, opts)
}

// RunProgram executes an already-compiled Program.
func RunProgram(ctx context.Context, prog *Program, opts RunOptions) error {
	vm := NewVM(prog)
	vm.Host = opts.Host
	if opts.Print != nil {
		vm.Print = opts.Print
	}
	vm.Trace = opts.Trace
	if opts.MaxStackDepth > 0 {
		vm.MaxStackDepth = opts.MaxStackDepth
	}
	if opts.MaxCallDepth > 0 {
		vm.MaxCallDepth = opts.MaxCallDepth
	}
	return vm.Run(ctx)
}
