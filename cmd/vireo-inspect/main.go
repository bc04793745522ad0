package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vireo-rt/vireo/internal/cli"
	"github.com/vireo-rt/vireo/internal/inspect"
	"github.com/vireo-rt/vireo/internal/trace"
)

// Exit codes: 0 success, 1 usage or rendering trouble, 70 transport or
// server failure.
const exitTransport = 70

var commands = []cli.CommandInfo{
	{Name: "state", Usage: "vireo-inspect state", Description: "One machine snapshot as JSON"},
	{Name: "tasks", Usage: "vireo-inspect tasks", Description: "Task table"},
	{Name: "trace", Usage: "vireo-inspect trace [N]", Description: "Last N trace samples as text (default 20)"},
	{Name: "profile", Usage: "vireo-inspect profile", Description: "The board profile in effect"},
	{Name: "console", Usage: "vireo-inspect console", Description: "Recent console output"},
	{Name: "send", Usage: "vireo-inspect send TEXT...", Description: "Feed TEXT plus newline to the console receiver"},
	{Name: "host", Usage: "vireo-inspect host", Description: "Facts about the hosting process"},
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		addr        = flag.String("addr", "localhost:4433", "inspector address (UDP, HTTP/3)")
		timeout     = flag.Duration("timeout", 5*time.Second, "request timeout")
	)

	flag.Usage = func() {
		cli.PrintUsage("vireo-inspect", commands)
	}

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("Vireo Inspector Client", *jsonOutput)
		os.Exit(0)
	}

	args := flag.Args()
	if err := cli.ValidateArgs(args, 1, "vireo-inspect [OPTIONS] <command> [args]"); err != nil {
		flag.Usage()
		os.Exit(1)
	}

	client := inspect.NewClient(*addr, *timeout)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := dispatch(ctx, client, args[0], args[1:]); err != nil {
		cli.ExitWithCode(exitTransport, "Error: %v", err)
	}
}

func dispatch(ctx context.Context, client *inspect.Client, command string, args []string) error {
	switch command {
	case "state":
		st, err := client.State(ctx)
		if err != nil {
			return err
		}
		return printJSON(st)
	case "tasks":
		tasks, err := client.Tasks(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPRIO\tSTATE\tENTRY\tSTACK\tRUNS")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t0x%08X\t%d\t%d\n",
				t.ID, t.Name, t.Priority, t.State, t.Entry, t.StackSize, t.Runs)
		}
		return tw.Flush()
	case "trace":
		n := 20
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v <= 0 {
				cli.ExitWithError("trace: bad count %q", args[0])
			}
			n = v
		}
		samples, err := client.Trace(ctx, n)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			fmt.Println("trace empty")
			return nil
		}
		return trace.WriteText(os.Stdout, samples)
	case "profile":
		p, err := client.Profile(ctx)
		if err != nil {
			return err
		}
		return printJSON(p)
	case "console":
		text, err := client.Console(ctx)
		if err != nil {
			return err
		}
		fmt.Print(text)
		if text != "" && !strings.HasSuffix(text, "\n") {
			fmt.Println()
		}
		return nil
	case "send":
		if len(args) == 0 {
			cli.ExitWithError("send needs TEXT")
		}
		return client.SendConsoleInput(ctx, []byte(strings.Join(args, " ")+"\n"))
	case "host":
		info, err := client.Host(ctx)
		if err != nil {
			return err
		}
		return printJSON(info)
	default:
		flag.Usage()
		cli.ExitWithError("unknown command %q", command)
		return nil
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
