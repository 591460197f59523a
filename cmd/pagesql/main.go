package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagesql/pagesql/internal/config"
	"github.com/pagesql/pagesql/internal/engine"
	"github.com/pagesql/pagesql/internal/logger"
	"github.com/pagesql/pagesql/internal/metrics"
	"github.com/pagesql/pagesql/internal/request"
)

var (
	flagConfig = flag.String("config", "", "path to a YAML config file (defaults used if omitted)")
	flagEcho   = flag.Bool("echo", false, "echo each statement before executing it")
	flagFormat = flag.String("format", "table", "SELECT output format: table, csv, json")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	m := metrics.New()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, m, log)
	}

	e, err := engine.Open(cfg, m, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open error:", err)
		os.Exit(1)
	}
	defer e.Close()

	runREPL(e, *flagEcho, *flagFormat)
}

// serveMetrics exposes /metrics and a trivial /healthz on addr until the
// process exits. Errors other than a clean shutdown are logged, not fatal —
// a dead metrics endpoint should never take the engine down with it.
func serveMetrics(addr string, m *metrics.Metrics, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Component("metrics").Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

func runREPL(e *engine.Engine, echo bool, format string) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 1024*1024)

	interactive := false
	if fi, err := os.Stdin.Stat(); err == nil {
		interactive = (fi.Mode() & os.ModeCharDevice) != 0
	}

	if interactive {
		fmt.Println("pagesql REPL. Statements end with ';'. '.help' for help.")
	}

	var buf strings.Builder
	firstPrompt := true

	for {
		if buf.Len() == 0 {
			if interactive {
				if !firstPrompt {
					fmt.Println()
				}
				firstPrompt = false
				fmt.Print("pagesql> ")
			}
		} else if interactive {
			fmt.Print(" ... ")
		}

		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				fmt.Fprintln(os.Stderr, "read error:", err)
			}
			return
		}

		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if handleMeta(e, line) {
				continue
			}
		}

		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString(" ")
			continue
		}
		q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(buf.String()), ";"))
		buf.Reset()

		if echo {
			fmt.Println(">", q)
		}

		stmt, err := request.Parse(q)
		if err != nil {
			fmt.Println("ERR:", err)
			continue
		}
		if stmt == nil {
			fmt.Println("ERR: unrecognized statement")
			continue
		}

		res, err := e.Execute(*stmt)
		if err != nil {
			var ioErr *engine.IOError
			if errors.As(err, &ioErr) {
				fmt.Fprintln(os.Stderr, "fatal:", err)
				os.Exit(1)
			}
			fmt.Println("ERR:", err)
			continue
		}
		if res != nil {
			printResult(res, format)
		} else if interactive {
			fmt.Println("(ok)")
		}
	}
}

func handleMeta(e *engine.Engine, line string) bool {
	switch line {
	case ".help":
		fmt.Println(`.meta:
  .help     show this text
  .tables   list tables and their columns
  .quit     exit`)
		return true
	case ".tables":
		for _, ts := range e.Tables() {
			fmt.Printf("%s (root=%d)\n", ts.Name, ts.RootPageID)
			for _, c := range ts.Columns {
				pk := ""
				if c.IsPrimaryKey {
					pk = " PRIMARY KEY"
				}
				fmt.Printf("  %-16s %s%s\n", c.Name, c.Type, pk)
			}
			for _, idx := range ts.Indexes {
				unique := ""
				if idx.IsUnique {
					unique = "UNIQUE "
				}
				fmt.Printf("  INDEX %s%s ON %s (root=%d)\n", unique, idx.Name, idx.ColumnName, idx.RootPageID)
			}
		}
		return true
	case ".quit":
		os.Exit(0)
	}
	return false
}

func printResult(res *engine.Result, format string) {
	switch format {
	case "csv":
		for _, row := range res.Rows {
			fmt.Println(rowString(row, ","))
		}
	case "json":
		fmt.Print("[")
		for i, row := range res.Rows {
			if i > 0 {
				fmt.Print(",")
			}
			fmt.Print("[")
			for j, col := range row {
				if j > 0 {
					fmt.Print(",")
				}
				fmt.Printf("%q", string(col))
			}
			fmt.Print("]")
		}
		fmt.Println("]")
	default:
		printTable(res)
	}
	fmt.Printf("(%d row(s))\n", res.NumRows())
}

func rowString(row engine.Row, sep string) string {
	parts := make([]string, len(row))
	for i, c := range row {
		parts[i] = string(c)
	}
	return strings.Join(parts, sep)
}

func printTable(res *engine.Result) {
	if len(res.Rows) == 0 {
		return
	}
	width := make([]int, len(res.Rows[0]))
	for _, row := range res.Rows {
		for i, c := range row {
			if i < len(width) && len(c) > width[i] {
				width[i] = len(c)
			}
		}
	}
	for _, row := range res.Rows {
		for i, c := range row {
			fmt.Print(padRight(string(c), width[i]))
			if i < len(row)-1 {
				fmt.Print("  ")
			}
		}
		fmt.Println()
	}
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}
