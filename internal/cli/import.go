package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/google/uuid"

	"github.com/oho/centroid-daemon/internal/config"
	"github.com/oho/centroid-daemon/internal/storage"
)

type importCmd struct {
	name   string
	header bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "store a CSV file as a dataset in the daemon database" }
func (*importCmd) Usage() string {
	return `import [-name <name>] [-header] <file.csv>

  Reads a numeric CSV file and stores it in the database under KC_DATA_DIR.
  Importing identical data twice returns the existing dataset id.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Dataset name. Defaults to the file name.")
	f.BoolVar(&c.header, "header", false, "Skip the first CSV record.")
}

func (c *importCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "import: expected exactly one CSV file")
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)

	vectors, err := readVectorsFile(path, c.header)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if err := storage.ValidateVectors(vectors); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		return subcommands.ExitFailure
	}

	name := c.name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	cfg := config.LoadConfig()
	db, err := openDatabase(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	id, created, err := db.InsertDataset(storage.NewDataset(uuid.NewString(), name, vectors))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if !created {
		fmt.Fprintf(os.Stderr, "dataset already stored\n")
	}
	fmt.Println(id)
	return subcommands.ExitSuccess
}

func openDatabase(cfg config.Config) (*storage.Database, error) {
	db, err := storage.NewDatabase(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return db, nil
}
