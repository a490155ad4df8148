package main

import (
	"github.com/classhour/backend/storage/database"
)

var gooseRunFunc = database.RunMigrationCommand // mockable

func (cli *commandLine) migrate(args []string) error {
	command := args[0]
	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}
	return gooseRunFunc(cli.db, command, rest...)
}
