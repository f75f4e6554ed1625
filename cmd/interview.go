package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/apiclient"
	"github.com/spigell/jobmatch/internal/interview"
	"go.uber.org/zap"
)

const (
	CommandDone = "/done"
	CommandQuit = "/quit"
)

var errExit = errors.New("exit requested")

var (
	interviewTypes = []string{"technical", "behavioral", "mixed"}
	difficulties   = []string{"easy", "medium", "hard"}
)

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Practice a mock interview against a jobmatch server",
	Run: func(cmd *cobra.Command, _ []string) {
		runInterview(cmd)
	},
}

func init() {
	rootCmd.AddCommand(interviewCmd)

	interviewCmd.Flags().String("job-title", "", "job title to interview for")
	interviewCmd.Flags().String("type", "", "interview type: technical, behavioral or mixed")
	interviewCmd.Flags().String("difficulty", "", "interview difficulty: easy, medium or hard")
	interviewCmd.Flags().String("seeker-id", "", "seeker id to store the session under")
	interviewCmd.Flags().StringP("frame-dir", "f", "", "directory with camera frames for behavioral analysis. Default is unset.")

	viper.BindPFlag("interview.frame-dir", interviewCmd.Flags().Lookup("frame-dir"))
}

func runInterview(cmd *cobra.Command) {
	config, logger := bootstrap()

	setup, err := interviewSetup(cmd)
	if err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var frames interview.FrameSource = interview.NopFrameSource{}
	frameInterval := config.Interview.FrameInterval
	if dir := strings.TrimSpace(config.Interview.FrameDir); dir != "" {
		frames = interview.NewDirFrameSource(dir)
	} else {
		frameInterval = 0
	}

	client := apiclient.New(config.Client.Server, config.Client.Timeout, logger)
	session := interview.New(client, frames, interview.Config{
		SeekerID:      cmd.Flag("seeker-id").Value.String(),
		Setup:         setup,
		FrameInterval: frameInterval,
		ChatRate:      config.Interview.ChatRate,
		ChatBurst:     config.Interview.ChatBurst,
		MaxRetries:    config.Interview.MaxRetries,
		MaxDelay:      config.Interview.MaxDelay,
		OnFeedback: func(f ai.BehaviorFeedback) {
			logger.Debug("behavior feedback", zap.String("feedback", f.Feedback))
		},
	}, logger)
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		logger.Fatal("starting the interview", zap.Error(err))
	}

	logger.Info("starting the interview",
		zap.String("session_id", session.ID()),
		zap.String("server", config.Client.Server),
		zap.String("hint", fmt.Sprintf("type %s to get the report or %s to leave", CommandDone, CommandQuit)),
	)

	if _, err := session.Open(ctx, printDelta); err != nil {
		logger.Error("opening the interview", zap.Error(err))
		return
	}
	fmt.Println()

	if err := converse(ctx, session, logger); err != nil {
		if errors.Is(err, errExit) {
			return
		}
		logger.Error("exiting", zap.Error(err))
		return
	}

	report, err := session.Finish(ctx)
	if err != nil {
		logger.Error("getting the interview report", zap.Error(err))
		return
	}

	pretty, _ := json.MarshalIndent(report, "", "  ")
	logger.Info(string(pretty), zap.Int("behavior notes", len(session.BehaviorNotes())))
}

// converse reads answers until the candidate asks for the report.
func converse(ctx context.Context, session *interview.Session, logger *zap.Logger) error {
	answerPrompt := promptui.Prompt{Label: "You"}

	for {
		answer, err := answerPrompt.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return errExit
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(answer) {
		case "":
			continue
		case CommandDone:
			return nil
		case CommandQuit:
			logger.Info("exiting", zap.String("reason", "quit requested"))
			return errExit
		}

		if _, err := session.Ask(ctx, answer, printDelta); err != nil {
			fmt.Println()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("the interviewer did not answer; send the answer again", zap.Error(err))
			continue
		}
		fmt.Println()
	}
}

func printDelta(delta string) {
	fmt.Print(delta)
}

func interviewSetup(cmd *cobra.Command) (ai.InterviewSetup, error) {
	setup := ai.InterviewSetup{
		JobTitle:      strings.TrimSpace(cmd.Flag("job-title").Value.String()),
		InterviewType: strings.TrimSpace(cmd.Flag("type").Value.String()),
		Difficulty:    strings.TrimSpace(cmd.Flag("difficulty").Value.String()),
	}

	if setup.JobTitle == "" {
		titlePrompt := promptui.Prompt{
			Label: "Job title",
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("job title is required")
				}
				return nil
			},
		}
		title, err := titlePrompt.Run()
		if err != nil {
			return setup, err
		}
		setup.JobTitle = strings.TrimSpace(title)
	}

	if setup.InterviewType == "" {
		typePrompt := promptui.Select{Label: "Interview type", Items: interviewTypes}
		_, choice, err := typePrompt.Run()
		if err != nil {
			return setup, err
		}
		setup.InterviewType = choice
	}

	if setup.Difficulty == "" {
		difficultyPrompt := promptui.Select{Label: "Difficulty", Items: difficulties}
		_, choice, err := difficultyPrompt.Run()
		if err != nil {
			return setup, err
		}
		setup.Difficulty = choice
	}

	return setup, nil
}
