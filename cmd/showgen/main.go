package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"stagectl/lib/show"
)

func main() {
	devices := flag.String("devices", "plug-1,plug-2,plug-3,plug-4", "comma separated device ids")
	scenes := flag.Int("scenes", 3, "number of scenes")
	groups := flag.Int("groups", 2, "groups per scene")
	sequences := flag.Int("sequences", 2, "number of sequences")
	name := flag.String("name", "", "show name")
	out := flag.String("o", "", "output file (stdout when empty)")
	flag.Parse()

	ids := strings.Split(*devices, ",")
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}

	s := show.GenerateMockShow(ids, *scenes, *groups, *sequences)
	if *name != "" {
		s.Name = *name
	}
	if err := s.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	if err := show.Encode(w, s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *out != "" {
		fmt.Fprintf(os.Stderr, "wrote %s: %d scenes, %d sequences, %d mappings\n",
			*out, len(s.Scenes), len(s.Sequences), len(s.MIDIMappings))
	}
}
