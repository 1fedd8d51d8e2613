// Command oakscript is the OakScript compiler, VM, and container tool.
// It dispatches on os.Args[1] before parsing flags, one flag.FlagSet per
// subcommand, in the shape the pack's chazu-maggie cmd/mag uses for its
// own multi-subcommand CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oakscript/oak/pkg/configuration"
	"github.com/oakscript/oak/pkg/debugstream"
	"github.com/oakscript/oak/pkg/lang"
	"github.com/oakscript/oak/pkg/logger"
	"github.com/oakscript/oak/pkg/sign"
	"github.com/oakscript/oak/pkg/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, `oakscript - OakScript compiler, VM, and container tool

Usage:
  oakscript run <source.oak> [--attach addr] [--trace sink]
  oakscript compile <source.oak> <out.oakc> [--sign]
  oakscript runbytecode <program.oakc> [--verify-sig] [--attach addr] [--trace sink]
  oakscript verify <program.oakc>

run, compile, runbytecode:
  -config path   configuration file (default oakscript.toml)`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	var exitCode int
	switch sub {
	case "run":
		exitCode = runCmd(args)
	case "compile":
		exitCode = compileCmd(args)
	case "runbytecode":
		exitCode = runbytecodeCmd(args)
	case "verify":
		exitCode = verifyCmd(args)
	case "-h", "-help", "--help", "help":
		usage()
		exitCode = 0
	default:
		fmt.Fprintf(os.Stderr, "oakscript: unknown subcommand %q\n", sub)
		usage()
		exitCode = 2
	}
	os.Exit(exitCode)
}

// bootstrap wires configuration, logging, and the script catalogue the
// same way across every subcommand.
func bootstrap(configPath string) (*store.Store, error) {
	if err := configuration.Initialize(configPath); err != nil {
		return nil, fmt.Errorf("initialize configuration: %w", err)
	}
	if err := logger.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	dbPath := configuration.GetString("storage", "db_path", "oakscript.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}
	return st, nil
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "oakscript.toml", "configuration file")
	attach := fs.String("attach", "", "address to serve a debug-stream websocket on, e.g. :8787")
	traceSink := fs.String("trace", "", "trace sink: stdout, or a file path")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: oakscript run <source.oak>")
		return 2
	}
	sourcePath := fs.Arg(0)

	st, err := bootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()
	defer logger.Close()

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	resolver := &osIncludeResolver{root: filepath.Dir(sourcePath)}
	prog, err := lang.Compile(src, sourcePath, resolver)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	historyID := catalogueAndStartRun(st, filepath.Base(sourcePath), src, lang.EncodeContainer(prog))

	execID, hub, closeHub := attachDebugStream(*attach)
	defer closeHub()

	trace, closeTrace := buildTraceSink(*traceSink, execID, hub)
	defer closeTrace()

	host := store.NewFilesystem(st, execID)
	ctx, cancel := signalContext()
	defer cancel()

	logger.Info(logger.AreaCLI, "run %s started, run_id=%s", sourcePath, execID)

	runErr := lang.RunProgram(ctx, prog, lang.RunOptions{
		Host:  host,
		Print: func(s string) { fmt.Println(s) },
		Trace: trace,
	})
	recordRunOutcome(st, historyID, runErr)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		return 1
	}
	return 0
}

// catalogueAndStartRun saves the script and its freshly compiled
// container, then opens a run_history row for it, returning that row's
// id (or "" if any catalogue step failed — a catalogue outage should
// never block a run).
func catalogueAndStartRun(st *store.Store, name string, src, container []byte) string {
	script, err := st.SaveScript(name, string(src))
	if err != nil {
		logger.Warn(logger.AreaCLI, "failed to catalogue script %s: %v", name, err)
		return ""
	}
	c, err := st.SaveContainer(script.ID, container, sign.ContentHash(container), "")
	if err != nil {
		logger.Warn(logger.AreaCLI, "failed to catalogue container for %s: %v", name, err)
		return ""
	}
	historyID, err := st.RecordRunStart(c.ID)
	if err != nil {
		logger.Warn(logger.AreaCLI, "failed to record run start for %s: %v", name, err)
		return ""
	}
	return historyID
}

func compileCmd(args []string) int {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	configPath := fs.String("config", "oakscript.toml", "configuration file")
	doSign := fs.Bool("sign", false, "write a provenance token alongside the container")
	fs.Parse(args)
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: oakscript compile <source.oak> <out.oakc>")
		return 2
	}
	sourcePath, outPath := fs.Arg(0), fs.Arg(1)

	st, err := bootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()
	defer logger.Close()

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	resolver := &osIncludeResolver{root: filepath.Dir(sourcePath)}
	prog, err := lang.Compile(src, sourcePath, resolver)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	container := lang.EncodeContainer(prog)

	if err := os.WriteFile(outPath, container, 0644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	scriptName := filepath.Base(sourcePath)
	scriptRow, err := st.SaveScript(scriptName, string(src))
	if err != nil {
		logger.Warn(logger.AreaCLI, "failed to catalogue script %s: %v", sourcePath, err)
	}
	if scriptRow != nil {
		hash := sign.ContentHash(container)
		if _, err := st.SaveContainer(scriptRow.ID, container, hash, ""); err != nil {
			logger.Warn(logger.AreaCLI, "failed to catalogue container for %s: %v", sourcePath, err)
		}
	}

	if *doSign {
		token, err := sign.Sign(scriptName, container)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		tokenPath := outPath + ".sig"
		if err := os.WriteFile(tokenPath, []byte(token), 0644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("wrote %s and %s\n", outPath, tokenPath)
		return 0
	}

	fmt.Printf("wrote %s\n", outPath)
	return 0
}

func runbytecodeCmd(args []string) int {
	fs := flag.NewFlagSet("runbytecode", flag.ExitOnError)
	configPath := fs.String("config", "oakscript.toml", "configuration file")
	attach := fs.String("attach", "", "address to serve a debug-stream websocket on, e.g. :8787")
	verifySig := fs.Bool("verify-sig", false, "require and check a .sig provenance token before running")
	traceSink := fs.String("trace", "", "trace sink: stdout, or a file path")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: oakscript runbytecode <program.oakc>")
		return 2
	}
	containerPath := fs.Arg(0)

	st, err := bootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer st.Close()
	defer logger.Close()

	raw, err := os.ReadFile(containerPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *verifySig {
		tokenRaw, err := os.ReadFile(containerPath + ".sig")
		if err != nil {
			fmt.Fprintln(os.Stderr, "verify-sig: cannot read provenance token:", err)
			return 1
		}
		if _, err := sign.Verify(string(tokenRaw), raw); err != nil {
			fmt.Fprintln(os.Stderr, "verify-sig: rejected:", err)
			return 1
		}
	}

	prog, err := lang.DecodeContainer(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	historyID := catalogueAndStartRun(st, filepath.Base(containerPath), nil, raw)

	execID, hub, closeHub := attachDebugStream(*attach)
	defer closeHub()
	trace, closeTrace := buildTraceSink(*traceSink, execID, hub)
	defer closeTrace()

	host := store.NewFilesystem(st, execID)
	ctx, cancel := signalContext()
	defer cancel()

	logger.Info(logger.AreaCLI, "runbytecode %s started, run_id=%s", containerPath, execID)
	runErr := lang.RunProgram(ctx, prog, lang.RunOptions{
		Host:  host,
		Print: func(s string) { fmt.Println(s) },
		Trace: trace,
	})
	recordRunOutcome(st, historyID, runErr)
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		return 1
	}
	return 0
}

// verifyCmd validates a container's header and section framing without
// ever constructing a VM for it — the container component's existing
// robustness property, exposed as a read-only user-facing check.
func verifyCmd(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: oakscript verify <program.oakc>")
		return 2
	}
	containerPath := fs.Arg(0)

	raw, err := os.ReadFile(containerPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	prog, err := lang.DecodeContainer(raw)
	if err != nil {
		fmt.Printf("FAIL %s: %v\n", containerPath, err)
		return 1
	}

	sigPath := containerPath + ".sig"
	sigStatus := "none"
	if tokenRaw, err := os.ReadFile(sigPath); err == nil {
		if _, err := sign.Verify(string(tokenRaw), raw); err != nil {
			sigStatus = fmt.Sprintf("invalid (%v)", err)
		} else {
			sigStatus = "valid"
		}
	}

	fmt.Printf("PASS %s\n", containerPath)
	fmt.Printf("  format version: %d\n", prog.Version)
	fmt.Printf("  code bytes:     %d\n", len(prog.Code))
	fmt.Printf("  data records:   %d\n", len(prog.Data))
	fmt.Printf("  content hash:   %s\n", sign.ContentHash(raw))
	fmt.Printf("  signature:      %s\n", sigStatus)
	return 0
}

func recordRunOutcome(st *store.Store, historyID string, runErr error) {
	if historyID == "" {
		return
	}
	if runErr == nil {
		if err := st.RecordRunFinish(historyID, true, "", ""); err != nil {
			logger.Warn(logger.AreaCLI, "failed to record run outcome: %v", err)
		}
		return
	}
	kind := "error"
	if re, ok := runErr.(*lang.RuntimeError); ok {
		kind = string(re.Kind)
	}
	if err := st.RecordRunFinish(historyID, false, kind, runErr.Error()); err != nil {
		logger.Warn(logger.AreaCLI, "failed to record run outcome: %v", err)
	}
}

// attachDebugStream starts a debug-stream hub and HTTP server when addr
// is non-empty, returning the run ID every trace frame and catalogue row
// for this execution will be tagged with.
func attachDebugStream(addr string) (runID string, hub *debugstream.Hub, closeFn func()) {
	runID = newRunID()
	if addr == "" {
		return runID, nil, func() {}
	}

	hub = debugstream.NewHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/trace", func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWebSocket(w, r, runID)
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(logger.AreaDebugStream, "debug-stream server: %v", err)
		}
	}()
	logger.Info(logger.AreaCLI, "debug stream attached on %s, run_id=%s", addr, runID)

	return runID, hub, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}

// buildTraceSink returns the VM's Trace callback for the requested sink
// kind: empty disables tracing, "stdout" prints each event, anything
// else is treated as a file path to append lines to. When a debug-stream
// hub is attached, every event is also published to it regardless of
// the sink kind, matching spec.md's "configured sink" tracing contract
// with file/stdout/websocket as the three destinations.
func buildTraceSink(kind, runID string, hub *debugstream.Hub) (fn func(lang.TraceEvent), closeFn func()) {
	var fileOut io.WriteCloser
	closeFn = func() {
		if fileOut != nil {
			fileOut.Close()
		}
	}

	switch kind {
	case "":
		if hub == nil {
			return nil, closeFn
		}
	case "stdout":
	default:
		f, err := os.OpenFile(kind, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger.Error(logger.AreaCLI, "trace sink %s: %v", kind, err)
		} else {
			fileOut = f
		}
	}

	return func(ev lang.TraceEvent) {
		switch kind {
		case "stdout":
			fmt.Printf("pc=%-6d op=%-14s stack=%d\n", ev.PC, ev.Op, ev.Stack)
		default:
			if fileOut != nil {
				fmt.Fprintf(fileOut, "pc=%d op=%s stack=%d\n", ev.PC, ev.Op, ev.Stack)
			}
		}
		if hub != nil {
			hub.Publish(debugstream.Frame{
				RunID: runID,
				PC:    uint32(ev.PC),
				Op:    fmt.Sprintf("%v", ev.Op),
				Stack: []string{fmt.Sprintf("depth=%d", ev.Stack)},
			})
		}
	}, closeFn
}

func newRunID() string { return uuid.New().String() }

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// osIncludeResolver resolves #include directives against the
// filesystem, relative to the including script's own directory.
type osIncludeResolver struct {
	root string
}

func (r *osIncludeResolver) ReadInclude(name string) (string, error) {
	path := filepath.Join(r.root, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
