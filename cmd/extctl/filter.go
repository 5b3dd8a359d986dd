package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/enfyra/app/filter"
)

// stdin is read when filter gets no argument.
var stdin io.Reader = os.Stdin

func runFilter(args []string) error {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	encode := fs.Bool("encode", false, "Encode a JSON filter group into the URL form")
	decode := fs.Bool("decode", false, "Decode a URL filter into its group and query")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: extctl filter -encode|-decode [value]\n\nThe value is read from stdin when omitted.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *encode == *decode {
		fs.Usage()
		return fmt.Errorf("exactly one of -encode or -decode is required")
	}

	input := strings.Join(fs.Args(), " ")
	if input == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		input = strings.TrimSpace(string(data))
	}

	if *encode {
		var g filter.Group
		if err := json.Unmarshal([]byte(input), &g); err != nil {
			return fmt.Errorf("invalid filter group: %w", err)
		}
		if err := filter.Validate(&g); err != nil {
			return err
		}
		s, err := filter.EncodeToURL(&g)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, s)
		return nil
	}

	g, err := filter.ParseFromURL(input)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"group": g,
		"query": filter.BuildQuery(g),
	})
}
