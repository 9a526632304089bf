package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/umputun/jobtrack/app/feed"
)

func main() {
	schema := jsonschema.Reflect(&feed.Config{})
	schema.Title = "jobtrack feed schema"
	schema.Description = "Schema for jobtrack job feed file"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal schema: %v", err)
	}

	outputPath := "feed-schema.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := os.WriteFile(outputPath, data, 0o600); err != nil { //nolint:gosec // schema file is not sensitive
		log.Fatalf("failed to write schema file: %v", err)
	}
	fmt.Printf("Schema generated successfully at %s\n", outputPath)
}
