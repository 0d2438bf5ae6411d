package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every registered schema change, in file name order.
var Migrations = migrate.NewMigrations()

func init() {
	if err := Migrations.DiscoverCaller(); err != nil {
		panic(err)
	}
}
