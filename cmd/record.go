package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/cardsync/internal/dateparse"
	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/output"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	Short:   "Write a local record the way the app features do",
	Long:    `Records are saved unsynced and pushed by the next sync cycle.`,
	GroupID: "data",
}

func openForRecord() (*db.DB, error) {
	store, err := db.Open(cfg.Local.Dir)
	if err != nil {
		output.Error("%v", err)
	}
	return store, err
}

var recordReviewCmd = &cobra.Command{
	Use:   "review <flashcard-id>",
	Short: "Record a flashcard review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		user, _ := f.GetString("user")
		id, _ := f.GetString("id")
		ease, _ := f.GetFloat64("ease")
		interval, _ := f.GetInt("interval")
		reps, _ := f.GetInt("repetitions")
		nextStr, _ := f.GetString("next")

		now := time.Now()
		next := now.Add(time.Duration(interval) * 24 * time.Hour).Unix()
		if nextStr != "" {
			v, err := dateparse.ParseEpoch(nextStr, now)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			next = v
		}

		store, err := openForRecord()
		if err != nil {
			return err
		}
		defer store.Close()

		saved, err := store.SaveReview(cmd.Context(), models.Review{
			ID:           id,
			UserID:       user,
			FlashcardID:  args[0],
			EaseFactor:   ease,
			Interval:     interval,
			Repetitions:  reps,
			NextReview:   next,
			LastReviewed: now.Unix(),
			CreatedAt:    now.Unix(),
		})
		if err != nil {
			output.Error("save review: %v", err)
			return err
		}
		output.Success("RECORDED review %s", saved)
		return nil
	},
}

var recordProgressCmd = &cobra.Command{
	Use:   "progress <lesson-id>",
	Short: "Record lesson progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		user, _ := f.GetString("user")
		id, _ := f.GetString("id")
		points, _ := f.GetInt("points")
		completed, _ := f.GetBool("completed")

		now := time.Now().Unix()
		p := models.ProgressRecord{
			ID:        id,
			UserID:    user,
			LessonID:  args[0],
			Points:    points,
			Completed: completed,
			CreatedAt: now,
		}
		if completed {
			p.CompletedAt = &now
		}

		store, err := openForRecord()
		if err != nil {
			return err
		}
		defer store.Close()

		saved, err := store.SaveProgress(cmd.Context(), p)
		if err != nil {
			output.Error("save progress: %v", err)
			return err
		}
		output.Success("RECORDED progress %s", saved)
		return nil
	},
}

var recordStreakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Record a practice streak",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		user, _ := f.GetString("user")
		id, _ := f.GetString("id")
		current, _ := f.GetInt("current")
		longest, _ := f.GetInt("longest")
		points, _ := f.GetInt("points")
		dateStr, _ := f.GetString("date")

		date, err := dateparse.ParseEpoch(dateStr, time.Now())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		longest = max(longest, current)

		store, err := openForRecord()
		if err != nil {
			return err
		}
		defer store.Close()

		saved, err := store.SaveStreak(cmd.Context(), models.StreakRecord{
			ID:               id,
			UserID:           user,
			CurrentStreak:    current,
			LongestStreak:    longest,
			LastPracticeDate: date,
			TotalPoints:      points,
		})
		if err != nil {
			output.Error("save streak: %v", err)
			return err
		}
		output.Success("RECORDED streak %s", saved)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordReviewCmd, recordProgressCmd, recordStreakCmd)

	for _, c := range []*cobra.Command{recordReviewCmd, recordProgressCmd, recordStreakCmd} {
		c.Flags().String("user", "", "User id (required)")
		c.Flags().String("id", "", "Record id; an existing id updates that record (default: new uuid)")
		c.MarkFlagRequired("user")
	}

	recordReviewCmd.Flags().Float64("ease", 2.5, "Ease factor")
	recordReviewCmd.Flags().Int("interval", 1, "Interval in days")
	recordReviewCmd.Flags().Int("repetitions", 1, "Repetition count")
	recordReviewCmd.Flags().String("next", "", "Next review time: unix seconds, date, keyword or offset like +3d (default: now + interval)")

	recordProgressCmd.Flags().Int("points", 0, "Points earned")
	recordProgressCmd.Flags().Bool("completed", false, "Mark the lesson completed now")

	recordStreakCmd.Flags().Int("current", 1, "Current streak in days")
	recordStreakCmd.Flags().Int("longest", 0, "Longest streak (at least current)")
	recordStreakCmd.Flags().Int("points", 0, "Total points")
	recordStreakCmd.Flags().String("date", "", "Last practice date: unix seconds, date, today, yesterday or an offset (default: now)")
}
