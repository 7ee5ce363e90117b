package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra/doc"

	"github.com/yoanbernabeu/sshconnector/internal/cmd"
)

func main() {
	outputDir := flag.String("out", "./docs/commands", "Output directory")
	linkPrefix := flag.String("link-prefix", "/sshconnector/commands/", "Prefix for links between command pages")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Front matter with the command path as title
	filePrepender := func(filename string) string {
		name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		return "---\ntitle: \"" + strings.ReplaceAll(name, "_", " ") + "\"\n---\n\n"
	}

	linkHandler := func(name string) string {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		return *linkPrefix + strings.ToLower(base) + "/"
	}

	root := cmd.GetRootCmd()
	root.DisableAutoGenTag = true
	if err := doc.GenMarkdownTreeCustom(root, *outputDir, filePrepender, linkHandler); err != nil {
		log.Fatalf("Failed to generate documentation: %v", err)
	}

	log.Printf("Documentation generated in %s", *outputDir)
}
