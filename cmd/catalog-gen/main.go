// Command catalog-gen converts a group workbook into groups.json.
//
// Usage:
//
//	catalog-gen -in gruplar.xlsx [-sheet grup] [-out groups.json]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ignite/sheet-dispatch/internal/groups"
)

func main() {
	in := flag.String("in", "", "group workbook (.xlsx)")
	sheet := flag.String("sheet", groups.DefaultCatalogSheet, "sheet holding the group columns")
	out := flag.String("out", "", "output file (default stdout)")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*in)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *in, err)
	}
	defer f.Close()

	c, err := groups.GenerateCatalog(f, *sheet)
	if err != nil {
		log.Fatalf("Failed to read catalog: %v", err)
	}
	c.Tidy()
	if err := groups.Validate(c); err != nil {
		log.Printf("Warning: catalog has problems: %v", err)
	}

	data, err := c.Marshal()
	if err != nil {
		log.Fatalf("Failed to encode catalog: %v", err)
	}
	if *out == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d groups to %s\n", len(c.Groups), *out)
}
