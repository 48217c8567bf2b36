package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage message.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: doc2pdf <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Run the HTTP compilation server")
	fmt.Fprintln(w, "  compile    Compile a local file to PDF")
	fmt.Fprintln(w, "  doctor     Check compilers, Chrome and storage")
	fmt.Fprintln(w, "  config     Print the effective configuration")
	fmt.Fprintln(w, "  version    Show version information")
	fmt.Fprintln(w, "  help       Show help for a command")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'doc2pdf help <command>' for details on a specific command.")
}

// printCommonUsage prints the flags every command accepts.
func printCommonUsage(w io.Writer) {
	fmt.Fprintln(w, "Common:")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path (env: DOC2PDF_CONFIG)")
	fmt.Fprintln(w, "  -q, --quiet               Only show errors")
	fmt.Fprintln(w, "  -v, --verbose             Debug logging")
}

// printCompilerUsage prints the compiler flags of serve and compile.
func printCompilerUsage(w io.Writer) {
	fmt.Fprintln(w, "Compilers:")
	fmt.Fprintln(w, "  -t, --timeout <d>         Per-compilation timeout, e.g. 30s, 2m")
	fmt.Fprintln(w, "  -j, --max-concurrent <n>  Simultaneous compilations (0 = auto)")
	fmt.Fprintln(w, "      --no-sandbox          Run Chrome without its sandbox")
}

// printServeUsage prints usage for the serve command.
func printServeUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: doc2pdf serve [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run the HTTP compilation server until interrupted.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Server:")
	fmt.Fprintln(w, "  -a, --addr <addr>         Listen address (default :8080)")
	fmt.Fprintln(w, "      --root <dir>          Artifact root directory")
	fmt.Fprintln(w, "      --allow-origin <url>  Allowed CORS origin, repeatable")
	fmt.Fprintln(w)
	printCompilerUsage(w)
	fmt.Fprintln(w)
	printCommonUsage(w)
}

// printCompileUsage prints usage for the compile command.
func printCompileUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: doc2pdf compile <input> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Compile a LaTeX, HTML or office document to PDF.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Arguments:")
	fmt.Fprintln(w, "  input    .tex, .html, .docx, .doc, .odt or .rtf file")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output:")
	fmt.Fprintln(w, "  -o, --output <path>       Output PDF (default: input with .pdf)")
	fmt.Fprintln(w, "  -k, --kind <s>            Source kind: latex, html, document")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Layout:")
	fmt.Fprintln(w, "  -p, --page-size <s>       Page size: letter, a4, legal")
	fmt.Fprintln(w, "      --orientation <s>     Orientation: portrait, landscape")
	fmt.Fprintln(w, "      --margin <s>          Margin: 1in, 2.5cm, 20mm, 36pt")
	fmt.Fprintln(w, "      --no-preserve         Use pandoc for documents (honors layout)")
	fmt.Fprintln(w)
	printCompilerUsage(w)
	fmt.Fprintln(w)
	printCommonUsage(w)
}

// printDoctorUsage prints usage for the doctor command.
func printDoctorUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: doc2pdf doctor [--json]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Check compilers, Chrome, environment and storage.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "      --json                Output JSON")
	printCommonUsage(w)
}

// printConfigUsage prints usage for the config command.
func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: doc2pdf config [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Print the effective configuration as YAML: defaults, then the")
	fmt.Fprintln(w, "config file, then DOC2PDF_* environment variables.")
	fmt.Fprintln(w)
	printCommonUsage(w)
}

// runHelp prints help for a specific command.
func runHelp(args []string, env *Environment) int {
	if len(args) == 0 {
		printUsage(env.Stdout)
		return ExitSuccess
	}

	switch args[0] {
	case "serve":
		printServeUsage(env.Stdout)
	case "compile":
		printCompileUsage(env.Stdout)
	case "doctor":
		printDoctorUsage(env.Stdout)
	case "config":
		printConfigUsage(env.Stdout)
	case "version":
		fmt.Fprintln(env.Stdout, "Usage: doc2pdf version")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show version information.")
	case "help":
		fmt.Fprintln(env.Stdout, "Usage: doc2pdf help [command]")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show help for a command.")
	default:
		fmt.Fprintf(env.Stderr, "Unknown command: %s\n", args[0])
		printUsage(env.Stderr)
		return ExitUsage
	}
	return ExitSuccess
}
