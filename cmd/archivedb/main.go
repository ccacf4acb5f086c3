// Command archivedb upgrades and migrates the metadata database.
package main

import "github.com/aqasim81/archivedb/internal/cli"

func main() {
	cli.Execute()
}
