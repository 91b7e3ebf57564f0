// Command ragcore answers questions over an indexed document corpus.
//
// Usage:
//
//	ragcore serve [-port 8080]
//	ragcore ask -q "Quel est le budget ?" [-project 7] [-k 4]
//	ragcore search -q "budget" [-project 7] [-k 4]
//	ragcore count
//
// Settings come from the environment and an optional .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return flag.ErrHelp
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return serveCmd(ctx, rest)
	case "ask":
		return askCmd(ctx, rest, out)
	case "search":
		return searchCmd(ctx, rest, out)
	case "count":
		return countCmd(ctx, rest, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, titleStyle.Render("ragcore")+" answers questions from an indexed corpus")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  serve    run the HTTP API")
	fmt.Fprintln(out, "  ask      answer a question, streaming the reply")
	fmt.Fprintln(out, "  search   print the evidence retrieved for a query")
	fmt.Fprintln(out, "  count    print the number of indexed chunks")
}
