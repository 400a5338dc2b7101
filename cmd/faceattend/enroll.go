package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/service"
	"github.com/MrCodeEU/faceattend/pkg/session"
	"github.com/MrCodeEU/faceattend/pkg/training"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <student-id>",
	Short: "Capture face samples for a student and retrain",
	Long: `Capture up to capture.max_images face samples for the student from the
camera, replacing any earlier samples, then retrain the model.

Look at the camera with good, even lighting. Press Ctrl+C to stop early; the
samples taken so far are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Rebuild the face model from the stored samples",
	Args:  cobra.NoArgs,
	RunE:  runTrain,
}

var markCmd = &cobra.Command{
	Use:   "mark",
	Short: "Run one attendance pass in front of the camera",
	Args:  cobra.NoArgs,
	RunE:  runMark,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the current attendance session",
	Args:  cobra.NoArgs,
	RunE:  runSession,
}

func init() {
	rootCmd.AddCommand(enrollCmd, trainCmd, markCmd, sessionCmd)
	markCmd.Flags().Bool("json", false, "Print the result as JSON")
	sessionCmd.Flags().Bool("json", false, "Print the session as JSON")
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	id := args[0]

	a, err := newApp(appOptions{Vision: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := interruptContext()
	defer stop()

	fmt.Printf("Starting enrollment for '%s'...\n", id)
	fmt.Println("Please ensure good lighting and face the camera.")

	bar := progressbar.NewOptions(cfg.Capture.MaxImages,
		progressbar.OptionSetDescription("Capturing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var res service.EnrollResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = a.svc.Enroll(ctx, id)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
poll:
	for {
		select {
		case <-done:
			break poll
		case <-ticker.C:
			_ = bar.Set(a.svc.CaptureProgress(id).Count)
		}
	}
	_ = bar.Set(res.Captured)
	_ = bar.Finish()
	fmt.Println()

	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	if !res.Success {
		return errors.New("enrollment failed")
	}
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	progress := func(done, total int) {
		if bar.GetMax() != total {
			bar.ChangeMax(total)
		}
		_ = bar.Set(done)
	}

	a, err := newApp(appOptions{Vision: true, TrainProgress: progress})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := interruptContext()
	defer stop()

	summary, err := a.svc.Train(ctx)
	_ = bar.Finish()
	fmt.Println()
	if errors.Is(err, training.ErrNoTrainingData) {
		fmt.Println("No training data. Enroll at least one student first.")
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("Model trained in %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Printf("  Identities: %d\n", summary.Identities)
	fmt.Printf("  Samples:    %d (from %d images)\n", summary.Samples, summary.Images)
	for _, id := range summary.Skipped {
		fmt.Printf("  Skipped:    %s (no usable samples)\n", id)
	}
	return nil
}

func runMark(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(appOptions{Vision: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := interruptContext()
	defer stop()

	res, err := a.svc.MarkAttendance(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("[%s] %s\n", res.Code, res.Message)
	for _, p := range res.Marked {
		fmt.Printf("  + %s (%s)\n", p.Name, p.ID)
	}
	for _, p := range res.AlreadyMarked {
		fmt.Printf("  = %s (%s)\n", p.Name, p.ID)
	}
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	resolver, err := session.NewFromConfig(cfg.Sessions)
	if err != nil {
		return err
	}
	info := resolver.Info(time.Now())

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(info)
	}

	fmt.Printf("Now:     %s %s (%s)\n", info.Date, info.Now, info.Zone)
	if info.Session == session.Closed {
		fmt.Printf("Session: %s\n", info.Session)
		fmt.Println(info.Msg)
		return nil
	}
	fmt.Printf("Session: %s (%s-%s)\n", info.Session, info.Start, info.End)
	return nil
}
