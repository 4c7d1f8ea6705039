package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	Interface  string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("basp-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Interface, "interface", "echo", "Interface name advertised for the echo actor")
	_ = fs.Parse(args)
	return opts
}
