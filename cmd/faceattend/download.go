package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

const cascadeURL = "https://raw.githubusercontent.com/opencv/opencv/4.x/data/haarcascades/haarcascade_frontalface_default.xml"

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage detector model files",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the Haar cascade and the dlib models",
	Long: `Download the frontal face Haar cascade to detection.cascade_path and,
unless --cascade-only is set, the dlib models to detection.dlib_models.
Existing files are kept.`,
	Args: cobra.NoArgs,
	RunE: runModelsDownload,
}

func init() {
	modelsDownloadCmd.Flags().Bool("cascade-only", false, "Only fetch the Haar cascade")
	modelsCmd.AddCommand(modelsDownloadCmd)
	rootCmd.AddCommand(modelsCmd)
}

type modelFile struct {
	Name string
	URL  string
	Path string
}

func runModelsDownload(cmd *cobra.Command, args []string) error {
	cascadeOnly, _ := cmd.Flags().GetBool("cascade-only")

	files := []modelFile{{
		Name: filepath.Base(cfg.Detection.CascadePath),
		URL:  cascadeURL,
		Path: cfg.Detection.CascadePath,
	}}
	if !cascadeOnly {
		for _, name := range []string{
			"shape_predictor_5_face_landmarks.dat",
			"dlib_face_recognition_resnet_model_v1.dat",
			"mmod_human_face_detector.dat",
		} {
			files = append(files, modelFile{
				Name: name,
				URL:  "http://dlib.net/files/" + name + ".bz2",
				Path: filepath.Join(cfg.Detection.DlibModels, name),
			})
		}
	}

	for _, f := range files {
		if _, err := os.Stat(f.Path); err == nil {
			logging.Infof("Model %s already exists, skipping", f.Name)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}

		logging.Infof("Downloading %s...", f.Name)
		if err := download(f.URL, f.Path); err != nil {
			return fmt.Errorf("failed to download %s: %w", f.Name, err)
		}
		logging.Infof("Successfully downloaded %s", f.Name)
	}

	logging.Info("All models downloaded successfully!")
	return nil
}

// download fetches url into targetPath, decompressing .bz2 payloads. The
// file only appears under its final name once complete.
func download(url, targetPath string) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := targetPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp) }()

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(targetPath))
	var body io.Reader = io.TeeReader(resp.Body, bar)
	if strings.HasSuffix(url, ".bz2") {
		body = bzip2.NewReader(body)
	}

	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, targetPath)
}
