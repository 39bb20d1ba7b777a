// Command schemagen writes the JSON schemas embedded by nominal.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/aaghdai/nominal/api/v1beta1/configs"
	"github.com/aaghdai/nominal/pkg/rule"
	"github.com/aaghdai/nominal/pkg/schema"
)

const module = "github.com/aaghdai/nominal"

var (
	root    = flag.String("root", ".", "Module root directory")
	kind    = flag.String("type", "config", "Schema to generate: config or rule")
	outFile = flag.String("o", "schema.json", "Output file for the generated schema")
)

func main() {
	flag.Parse()

	out, err := filepath.Abs(*outFile)
	if err != nil {
		log.Fatalf("resolve output path: %v", err)
	}

	// Comment lookup needs paths relative to the module root.
	err = os.Chdir(*root)
	if err != nil {
		log.Fatalf("change to module root: %v", err)
	}

	var gen *schema.Generator

	switch *kind {
	case "config":
		gen = schema.NewGenerator(&configs.Config{}, module,
			"./api/v1beta1",
			"./api/v1beta1/configs",
			"./pkg/execs",
		)
	case "rule":
		gen = schema.NewGenerator(&rule.Definition{}, module, "./pkg/rule")
	default:
		log.Fatalf("unknown schema type %q", *kind)
	}

	jsData, err := gen.Generate()
	if err != nil {
		log.Fatalf("generate JSON schema: %v", err)
	}

	err = os.WriteFile(out, jsData, 0o600)
	if err != nil {
		log.Fatalf("write schema file: %v", err)
	}
}
