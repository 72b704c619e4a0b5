package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/codebutler/serenity/emulator"
)

func main() {
	fs := flag.NewFlagSet("emulator", flag.ExitOnError)
	trace := fs.Bool("trace", false, "trace instruction execution")
	strace := fs.Bool("strace", false, "trace syscalls")
	verbose := fs.Bool("v", false, "verbose output")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [--] <program> [args...]\n", os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])
	args := fs.Args()
	if len(args) < 1 {
		fs.Usage()
		os.Exit(1)
	}

	e, err := emulator.New(args[0], args, os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}
	e.Trace = *trace
	e.SetStrace(*strace)
	if *verbose {
		e.Report("==%d==  entry point @ %#08x\n", e.Pid(), e.Loader().Entry())
		for _, region := range e.Mmu().Regions() {
			e.Report("==%d==  %s\n", e.Pid(), region)
		}
	}

	status, err := e.Run()
	if err != nil {
		os.Exit(255)
	}
	os.Exit(status)
}
