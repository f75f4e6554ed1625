package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/apiclient"
	"go.uber.org/zap"
)

var cvCmd = &cobra.Command{
	Use:   "cv <file>",
	Short: "Analyze a local CV (PDF or text) through the server",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withClient(func(ctx context.Context, client *apiclient.Client, logger *zap.Logger) (any, error) {
			return client.AnalyzeCVFile(ctx, args[0], flagValue(cmd, "target-role"), flagValue(cmd, "seeker-id"))
		})
	},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Score a stored seeker against a stored job",
	Run: func(cmd *cobra.Command, _ []string) {
		withClient(func(ctx context.Context, client *apiclient.Client, logger *zap.Logger) (any, error) {
			return client.Match(ctx, apiclient.MatchRequest{
				SeekerID: flagValue(cmd, "seeker-id"),
				JobID:    flagValue(cmd, "job-id"),
				Criteria: criteriaFlags(cmd),
			})
		})
	},
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates <job-id>",
	Short: "Rank the applicants of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withClient(func(ctx context.Context, client *apiclient.Client, logger *zap.Logger) (any, error) {
			resp, err := client.RankCandidates(ctx, args[0], criteriaFlags(cmd))
			if err != nil {
				return nil, err
			}
			logger.Info("ranked candidates", zap.String("job_id", resp.JobID), zap.Int("count", len(resp.Candidates)))
			return resp.Candidates, nil
		})
	},
}

var footprintCmd = &cobra.Command{
	Use:   "footprint <full name>",
	Short: "Scan the public footprint of a person",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		links, _ := cmd.Flags().GetStringSlice("link")
		withClient(func(ctx context.Context, client *apiclient.Client, logger *zap.Logger) (any, error) {
			return client.ScanFootprint(ctx, apiclient.FootprintRequest{
				SeekerID: flagValue(cmd, "seeker-id"),
				FootprintInput: ai.FootprintInput{
					FullName: strings.Join(args, " "),
					Links:    links,
					Bio:      flagValue(cmd, "bio"),
				},
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(cvCmd, matchCmd, candidatesCmd, footprintCmd)

	cvCmd.Flags().String("target-role", "", "role the CV is aimed at")
	cvCmd.Flags().String("seeker-id", "", "seeker id to store the analysis under")

	matchCmd.Flags().String("seeker-id", "", "seeker id")
	matchCmd.Flags().String("job-id", "", "job id")
	matchCmd.MarkFlagRequired("seeker-id")
	matchCmd.MarkFlagRequired("job-id")

	footprintCmd.Flags().StringSlice("link", nil, "public profile link, may be repeated")
	footprintCmd.Flags().String("bio", "", "short public bio")
	footprintCmd.Flags().String("seeker-id", "", "seeker id to store the scan under")

	for _, c := range []*cobra.Command{matchCmd, candidatesCmd} {
		c.Flags().String("extra-criteria", "", "additional criteria for the model")
		c.Flags().String("deal-breakers", "", "deal breakers the candidate must not hit")
		c.Flags().String("keywords", "", "comma separated must-include keywords")
		c.Flags().String("instructions", "", "free-form advisory instructions")
	}
}

// withClient runs call against the configured server and logs the result as JSON.
func withClient(call func(ctx context.Context, client *apiclient.Client, logger *zap.Logger) (any, error)) {
	config, logger := bootstrap()
	client := apiclient.New(config.Client.Server, config.Client.Timeout, logger)

	result, err := call(context.Background(), client, logger)
	if err != nil {
		logger.Fatal("request failed", zap.String("server", config.Client.Server), zap.Error(err))
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal("encoding the result", zap.Error(err))
	}
	fmt.Println(string(pretty))
}

func flagValue(cmd *cobra.Command, name string) string {
	flag := cmd.Flag(name)
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(flag.Value.String())
}

func criteriaFlags(cmd *cobra.Command) ai.Criteria {
	return ai.Criteria{
		ExtraCriteria: flagValue(cmd, "extra-criteria"),
		DealBreakers:  flagValue(cmd, "deal-breakers"),
		Keywords:      flagValue(cmd, "keywords"),
		Instructions:  flagValue(cmd, "instructions"),
	}
}
