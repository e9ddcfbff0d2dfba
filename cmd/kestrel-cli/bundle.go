package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const activateFlagName = "activate"

func newBundleCommand() *cli.Command {
	return &cli.Command{
		Name:  "bundle",
		Usage: "Manage the model bundle registry",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Validate a bundle artifact and store it in the registry",
				ArgsUsage: "<location>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  activateFlagName,
						Usage: "Make the imported bundle the active one",
					},
				},
				Action: runBundleImport,
			},
			{
				Name:   "list",
				Usage:  "List registered bundles",
				Action: runBundleList,
			},
			{
				Name:      "activate",
				Usage:     "Make a registered bundle the active one",
				ArgsUsage: "<id>",
				Action:    runBundleActivate,
			},
			{
				Name:      "inspect",
				Usage:     "Validate a bundle at any location and print its summary",
				ArgsUsage: "<location>",
				Action:    runBundleInspect,
			},
		},
	}
}

func requireArg(cmd *cli.Command, what string) (string, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return arg, nil
}

func runBundleImport(ctx context.Context, cmd *cli.Command) error {
	location, err := requireArg(cmd, "bundle location")
	if err != nil {
		return err
	}

	repo, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	src, err := model.Open(ctx, location, model.Options{Store: repo})
	if err != nil {
		return err
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", src, err)
	}
	bundle, err := model.Parse(data)
	if err != nil {
		return err
	}

	rec := &domain.BundleRecord{
		ID:          bundle.ID(),
		Version:     bundle.Version(),
		Description: bundle.Description(),
		SHA256:      bundle.Digest(),
		Artifact:    data,
		Active:      cmd.Bool(activateFlagName),
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.SaveBundle(ctx, rec); err != nil {
		return err
	}

	fmt.Printf("imported %s version %s (sha256 %s)\n", rec.ID, rec.Version, rec.SHA256)
	if rec.Active {
		fmt.Printf("%s is now active\n", rec.ID)
	}
	return nil
}

func runBundleList(ctx context.Context, cmd *cli.Command) error {
	repo, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := repo.ListBundles(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tACTIVE\tCREATED\tSHA256")
	for _, r := range records {
		active := ""
		if r.Active {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.12s\n", r.ID, r.Version, active, r.CreatedAt.Format(time.RFC3339), r.SHA256)
	}
	return tw.Flush()
}

func runBundleActivate(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "bundle id")
	if err != nil {
		return err
	}

	repo, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.ActivateBundle(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("bundle %s is not registered", id)
		}
		return err
	}
	fmt.Printf("%s is now active\n", id)
	return nil
}

func runBundleInspect(ctx context.Context, cmd *cli.Command) error {
	location, err := requireArg(cmd, "bundle location")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts := model.Options{S3Region: cfg.Model.S3Region, S3Endpoint: cfg.Model.S3Endpoint}
	if isRegistry(location) {
		repo, err := openRegistry(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()
		opts.Store = repo
	}

	bundle, err := model.LoadLocation(ctx, location, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(bundle.Info())
}
