// Command repl is an interactive shell over a frankendb database file,
// reading statements from stdin until ';', the way sqlite3's own shell
// does.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/fractalsoft/frankendb"
	"github.com/fractalsoft/frankendb/internal/config"
	"github.com/fractalsoft/frankendb/internal/record"
	"github.com/fractalsoft/frankendb/internal/vfs"
)

var (
	flagPath   = flag.String("db", "frankendb.db", "database file path")
	flagEcho   = flag.Bool("echo", false, "echo each statement before executing it")
	flagFormat = flag.String("format", "table", "output format: table, csv")
)

func main() {
	flag.Parse()

	db, err := frankendb.Open(vfs.NewOSVFS(), *flagPath, config.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, "open error:", err)
		os.Exit(1)
	}
	defer db.Close()

	runREPL(db, *flagEcho, *flagFormat)
}

func runREPL(db *frankendb.DB, echo bool, format string) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 4*1024*1024)

	interactive := isInteractive()
	if interactive {
		fmt.Println("frankendb REPL. End a statement with ';'. '.help' for help.")
	}

	var buf strings.Builder
	for {
		if interactive {
			if buf.Len() == 0 {
				fmt.Print("frankendb> ")
			} else {
				fmt.Print("   ...> ")
			}
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if handleMeta(db, line) {
				continue
			}
		}
		buf.WriteString(line)
		if strings.HasSuffix(line, ";") {
			sql := strings.TrimSuffix(strings.TrimSpace(buf.String()), ";")
			buf.Reset()
			if echo {
				fmt.Println(sql)
			}
			run(db, sql, format)
		} else {
			buf.WriteString(" ")
		}
	}
}

func run(db *frankendb.DB, sql string, format string) {
	rs, err := db.Exec(context.Background(), sql)
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	if len(rs.Columns) == 0 {
		fmt.Println("(ok)")
		return
	}
	switch strings.ToLower(format) {
	case "csv":
		printCSV(rs)
	default:
		printTable(rs)
	}
}

func handleMeta(db *frankendb.DB, line string) bool {
	switch {
	case line == ".help":
		fmt.Println(`
.meta commands:
  .help     show this help
  .stats    show compile cache statistics
  .quit     exit`)
		return true
	case line == ".stats":
		printStats(db)
		return true
	case line == ".quit":
		os.Exit(0)
	}
	return false
}

// printStats reports the JIT compile cache's cumulative counters in
// human-readable form, using go-humanize the same way the teacher's
// own shell would format a byte count rather than printing a bare
// integer.
func printStats(db *frankendb.DB) {
	s := db.CacheStats()
	fmt.Printf("compile cache: %s entries, %s hits, %s misses\n",
		humanize.Comma(int64(s.Size)), humanize.Comma(s.Hits), humanize.Comma(s.Misses))
}

func printTable(rs *frankendb.Result) {
	width := make([]int, len(rs.Columns))
	for i, c := range rs.Columns {
		width[i] = len(c)
	}
	cells := make([][]string, len(rs.Rows))
	for r, row := range rs.Rows {
		cells[r] = make([]string, len(row))
		for i, v := range row {
			cells[r][i] = cellString(v)
			if len(cells[r][i]) > width[i] {
				width[i] = len(cells[r][i])
			}
		}
	}
	printRow(rs.Columns, width)
	for i := range rs.Columns {
		fmt.Print(strings.Repeat("-", width[i]))
		if i < len(rs.Columns)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
	for _, row := range cells {
		printRow(row, width)
	}
}

func printRow(cells []string, width []int) {
	for i, c := range cells {
		fmt.Print(padRight(c, width[i]))
		if i < len(cells)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

func printCSV(rs *frankendb.Result) {
	fmt.Println(strings.Join(rs.Columns, ","))
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cellString(v)
		}
		fmt.Println(strings.Join(cells, ","))
	}
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

func cellString(v record.Value) string {
	if v.IsNull() {
		return "NULL"
	}
	return frankendb.RowString([]record.Value{v})
}

func isInteractive() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
