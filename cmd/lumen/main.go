// Lumen CLI - runs, inspects and verifies compiled Lumen modules.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/lumen-lang/lumen/manifest"
	"github.com/lumen-lang/lumen/schema"
	"github.com/lumen-lang/lumen/tools"
	"github.com/lumen-lang/lumen/trace"
	"github.com/lumen-lang/lumen/vm"
	"github.com/lumen-lang/lumen/vm/wire"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "disasm":
		err = cmdDisasm(os.Args[2:])
	case "trace":
		err = cmdTrace(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: lumen <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run     [-e cell] [-a json]... [-trace] [module.lir]   run a compiled module\n")
	fmt.Fprintf(os.Stderr, "  disasm  <module.lir> [cell]                            print bytecode listing\n")
	fmt.Fprintf(os.Stderr, "  trace   list | verify <run-id>                         inspect the run journal\n\n")
	fmt.Fprintf(os.Stderr, "Examples:\n")
	fmt.Fprintf(os.Stderr, "  lumen run build/main.lir -e main\n")
	fmt.Fprintf(os.Stderr, "  lumen run -e handle_order -a '{\"id\": 7}' -trace\n")
	fmt.Fprintf(os.Stderr, "  lumen trace verify 7d4a...\n")
}

type jsonArgs []string

func (a *jsonArgs) String() string     { return fmt.Sprint(*a) }
func (a *jsonArgs) Set(s string) error { *a = append(*a, s); return nil }

func cmdRun(argv []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	entry := fs.String("e", "main", "Entry cell name")
	verbose := fs.Bool("v", false, "Verbose logging")
	traced := fs.Bool("trace", false, "Journal the run to the trace store")
	step := fs.Bool("step", false, "Journal every instruction (implies -trace)")
	schemaDir := fs.String("schemas", "", "Directory of .cue schemas (default <manifest dir>/schemas)")
	var rawArgs jsonArgs
	fs.Var(&rawArgs, "a", "JSON argument, repeatable")
	fs.Parse(argv)

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	man, err := manifest.FindAndLoad(".")
	if err != nil {
		return err
	}

	modPath := ""
	if fs.NArg() > 0 {
		modPath = fs.Arg(0)
	} else if man != nil {
		modPath = man.ModulePath()
	} else {
		return fmt.Errorf("no module given and no lumen.toml found")
	}
	mod, err := readModule(modPath)
	if err != nil {
		return err
	}

	opts := vm.Options{}
	if man != nil {
		opts.MaxDepth = man.Engine.MaxDepth
	}

	// Schemas
	schemas := schema.NewRegistry()
	dir := *schemaDir
	if dir == "" && man != nil {
		dir = filepath.Join(man.Dir, "schemas")
	}
	if dir != "" {
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := schemas.LoadDir(dir); err != nil {
				return err
			}
		}
	}
	opts.Schemas = schemas

	// Tools
	registry := tools.NewRegistry()
	defer registry.Close()
	if man != nil {
		mock := tools.NewMockProvider()
		grpc := tools.NewGrpcProvider()
		for _, t := range man.Tools {
			if t.Mock {
				registry.Bind(t.Alias, mock)
			} else if t.Target != "" {
				registry.Bind(t.Alias, grpc)
			}
		}
	}
	opts.Tools = registry

	// Tracing
	var run *trace.Run
	if *traced || *step {
		driver, path := "sqlite3", filepath.Join(".lumen", "trace.db")
		if man != nil {
			driver, path = man.Trace.Driver, man.Trace.Path
		}
		store, err := trace.Open(driver, path)
		if err != nil {
			return err
		}
		defer store.Close()
		run, err = trace.StartRun(store, mod.DocHash)
		if err != nil {
			return err
		}
		defer run.End()
		opts.Tracer = run
		opts.StepTrace = *step
	}

	engine, err := vm.Load(mod, opts)
	if err != nil {
		return err
	}

	args := make([]vm.Value, 0, len(rawArgs))
	for _, raw := range rawArgs {
		var native any
		if err := json.Unmarshal([]byte(raw), &native); err != nil {
			return fmt.Errorf("argument %q: %w", raw, err)
		}
		v, err := vm.FromNative(native, engine.Strings())
		if err != nil {
			return fmt.Errorf("argument %q: %w", raw, err)
		}
		args = append(args, v)
	}

	result, err := engine.CallByName(context.Background(), *entry, args...)
	if err != nil {
		return err
	}
	fmt.Println(result.Format(engine.Strings()))
	if run != nil {
		fmt.Fprintf(os.Stderr, "run: %s\n", run.RunID())
	}
	return nil
}

func cmdDisasm(argv []string) error {
	if len(argv) < 1 {
		return fmt.Errorf("disasm needs a module path")
	}
	mod, err := readModule(argv[0])
	if err != nil {
		return err
	}
	if len(argv) > 1 {
		ci := mod.CellByName(argv[1])
		if ci < 0 {
			return fmt.Errorf("no cell named %q", argv[1])
		}
		fmt.Print(vm.DisassembleCell(mod, ci))
		return nil
	}
	fmt.Print(vm.Disassemble(mod))
	return nil
}

func cmdTrace(argv []string) error {
	if len(argv) < 1 {
		return fmt.Errorf("trace needs a subcommand: list or verify")
	}
	man, err := manifest.FindAndLoad(".")
	if err != nil {
		return err
	}
	driver, path := "sqlite3", filepath.Join(".lumen", "trace.db")
	if man != nil {
		driver, path = man.Trace.Driver, man.Trace.Path
	}
	store, err := trace.Open(driver, path)
	if err != nil {
		return err
	}
	defer store.Close()

	switch argv[0] {
	case "list":
		runs, err := store.Runs()
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Println(id)
		}
		return nil
	case "verify":
		if len(argv) < 2 {
			return fmt.Errorf("trace verify needs a run id")
		}
		if err := store.Verify(argv[1]); err != nil {
			return err
		}
		fmt.Printf("run %s: chain intact\n", argv[1])
		return nil
	}
	return fmt.Errorf("unknown trace subcommand %q", argv[0])
}

func readModule(path string) (*vm.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return wire.UnmarshalModule(data)
}
