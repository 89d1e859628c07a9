package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/debug"

	"zymvm/internal/native"
	"zymvm/internal/vm"
)

const Version = "v0.1.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("Recovered from panic:", r)
			debug.PrintStack()
		}
	}()

	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")
	traceGC := flag.Bool("trace-gc", false, "Log every garbage collection cycle")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: zymvm [options]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("zymvm %s\n", Version)
		return
	}

	runDemo(*showDisassembly, *traceGC)
}

// runDemo is the stand-in for the reference codebase's file/REPL
// entry points: with no front end in scope, it hand-assembles a module
// (see demo.go), loads it, prepares add@2, and runs it through the
// full host-embedding API (§4.9).
func runDemo(showDisasm, traceGC bool) {
	mod := buildDemoModule()
	if showDisasm {
		fmt.Println("Disassembly:")
		mod.DisassembleAll("<demo>")
		fmt.Println()
	}

	machine := vm.NewWithConfig(vm.VMConfig{TraceGC: traceGC})
	native.Install(machine)

	if status := machine.LoadModule(mod); status != vm.StatusOK {
		fmt.Printf("module load failed: %s\n%s\n", status, machine.LastError())
		os.Exit(1)
	}

	if !machine.Prepare("add", 2) {
		fmt.Println("no such entry point: add@2")
		os.Exit(1)
	}
	machine.PushNumber(3)
	machine.PushNumber(4)

	status := machine.Execute(2)
	if status != vm.StatusOK {
		fmt.Printf("runtime error: %s\n%s\n", status, machine.LastError())
		os.Exit(1)
	}

	result := machine.GetResult()
	fmt.Printf("add(3, 4) = %s\n", result.String())
}
