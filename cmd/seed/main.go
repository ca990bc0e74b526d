// Command seed fills the configured database with demo data.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cppla/reverence/config"
	"github.com/cppla/reverence/models"
	"github.com/cppla/reverence/seed"
	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

func main() {
	if err := newSeedCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newSeedCommand() *cobra.Command {
	var opts seed.Options
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with demo users, posts, comments, tags and reactions",
		Long: `Populate the database configured in config/config.json (or the environment)
with demo data. Every write goes through the service layer, so reputation is
consistent with the reactions created.

All seeded accounts use the password "` + seed.DemoPassword + `".`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if err := utils.InitLogger(cfg); err != nil {
				return err
			}
			defer func() { _ = utils.Logger.Sync() }()

			db := config.InitDatabase(models.All()...)
			s := seed.NewSeeder(db, services.RetryPolicyFromConfig(cfg), opts.Seed)
			sum, err := s.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d users, %d posts, %d comments, %d reactions\n",
				sum.Users, sum.Posts, sum.Comments, sum.Reactions)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.Users, "users", 20, "number of users to create")
	flags.IntVar(&opts.Posts, "posts", 60, "number of posts to create")
	flags.IntVar(&opts.Comments, "comments", 200, "number of comments to create")
	flags.IntVar(&opts.Reactions, "reactions", 400, "number of reaction operations to apply")
	flags.StringSliceVar(&opts.Tags, "tags", nil, "tag vocabulary (default: a built-in list)")
	flags.Int64Var(&opts.Seed, "seed", 0, "random seed, 0 for a random one")
	cmd.SetContext(context.Background())
	return cmd
}
