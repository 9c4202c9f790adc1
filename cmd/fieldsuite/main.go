package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/phillip-england/fieldsuite/internal/fieldcli"
)

func main() {
	if err := fieldcli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, fieldcli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr)
			fieldcli.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
