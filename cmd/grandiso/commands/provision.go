package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/grandiso/pkg/backends"
	"github.com/DrSkyle/grandiso/pkg/cloud"
	"github.com/DrSkyle/grandiso/pkg/config"
)

var dryRun bool

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the queue, tables and bucket",
	Long: `Create the AWS resources named by --queue, --results, --jobs and --bucket.
Existing resources are left alone. References with a non-AWS scheme are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return provision(cmd, false)
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Delete the queue, tables and bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return provision(cmd, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{provisionCmd, teardownCmd} {
		c.Flags().BoolVar(&dryRun, "dry", false, "print the changes without making them")
		rootCmd.AddCommand(c)
	}
	provisionCmd.Flags().String("bucket", "", "S3 bucket for blob-backed results and jobs")
	bind(provisionCmd.Flags(), "bucket", "bucket")
}

// awsResources keeps the references that name AWS resources.
func awsResources(c config.Config) cloud.Resources {
	r := cloud.Resources{Lease: c.Worker.Lease, Bucket: c.Bucket}
	if p, err := backends.Parse(c.Queue, backends.SQS); err == nil && p.Scheme == backends.SQS {
		r.Queue = p.Name
	}
	if p, err := backends.Parse(c.Results, backends.DynamoDB); err == nil && p.Scheme == backends.DynamoDB {
		r.ResultsTable = p.Name
	}
	if p, err := backends.Parse(c.Jobs, backends.DynamoDB); err == nil && p.Scheme == backends.DynamoDB {
		r.JobsTable = p.Name
	}
	return r
}

func provision(cmd *cobra.Command, teardown bool) error {
	ctx := cmd.Context()
	res := newResolver(cfg)
	defer res.Close()

	client, err := res.Cloud(ctx)
	if err != nil {
		return err
	}
	identity, err := client.VerifyIdentity(ctx)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	logger.Info("Authenticated", "account", identity, "region", cfg.Region)

	p := cloud.NewProvisioner(client, dryRun, logger)
	var changes []cloud.Change
	if teardown {
		changes, err = p.Teardown(ctx, awsResources(cfg))
	} else {
		changes, err = p.Provision(ctx, awsResources(cfg))
	}
	for _, c := range changes {
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ ")+c.String())
	}
	if len(changes) == 0 && err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("Nothing to do."))
	}
	return err
}
