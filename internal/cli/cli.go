// Package cli holds the centroid-daemon subcommands.
package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"
)

// Commands lists every subcommand in registration order.
var Commands = []subcommands.Command{
	&serveCmd{},
	&clusterCmd{},
	&importCmd{},
}

// Register adds the subcommands to c.
func Register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")
	for _, cmd := range Commands {
		c.Register(cmd, "")
	}
}

// ReadVectors parses a numeric CSV with one vector per record. When header
// is set the first record is skipped.
func ReadVectors(r io.Reader, header bool) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if header && len(records) > 0 {
		records = records[1:]
	}

	vectors := make([][]float64, 0, len(records))
	for i, rec := range records {
		v := make([]float64, len(rec))
		for j, field := range rec {
			x, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("record %d field %d: %w", i+1, j+1, err)
			}
			v[j] = x
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

func readVectorsFile(path string, header bool) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadVectors(f, header)
}
