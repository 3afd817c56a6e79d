package main

import (
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/preflightdb/preflight/cli/commands"
)

func main() {
	os.Exit(commands.Execute())
}
