package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"github.com/MrCodeEU/faceattend/pkg/storage"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.xml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<opencv_storage/>"))
	}))
	defer srv.Close()

	dir := t.TempDir()

	target := filepath.Join(dir, "cascade.xml")
	if err := download(srv.URL+"/cascade.xml", target); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "<opencv_storage/>" {
		t.Errorf("downloaded %q, %v", data, err)
	}
	if _, err := os.Stat(target + ".part"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}

	missing := filepath.Join(dir, "missing.xml")
	if err := download(srv.URL+"/missing.xml", missing); err == nil {
		t.Error("expected an error for a 404")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("failed download must not create the target")
	}
}

func TestModelSealer(t *testing.T) {
	cfg = config.DefaultConfig()
	if s := modelSealer(); s != nil {
		t.Errorf("sealer must be a nil interface when encryption is off, got %T", s)
	}

	cfg.Storage.EncryptionEnabled = true
	for _, key := range []string{"passphrase", ""} {
		cfg.Storage.EncryptionKey = key
		s := modelSealer()
		if s == nil {
			t.Fatalf("expected a sealer for key %q", key)
		}
		sealed, err := s.Seal([]byte("model"))
		if err != nil {
			t.Fatal(err)
		}
		opened, err := s.Open(sealed)
		if err != nil || string(opened) != "model" {
			t.Errorf("key %q: round trip = %q, %v", key, opened, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("encryption without a passphrase must validate: %v", err)
	}
}

func TestRecognitionParams(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Recognition.Radius = 2
	cfg.Recognition.GridX = 4
	cfg.Recognition.GridY = 6
	cfg.Recognition.Metric = "euclidean"

	p := recognitionParams()
	want := recognition.Params{Radius: 2, Neighbors: 8, GridX: 4, GridY: 6, Metric: recognition.MetricEuclidean}
	if p != want {
		t.Errorf("params = %+v, want %+v", p, want)
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"enroll"},
		{"train"},
		{"mark"},
		{"session"},
		{"students", "add"},
		{"students", "list"},
		{"students", "update"},
		{"students", "remove"},
		{"attendance", "list"},
		{"attendance", "delete"},
		{"models", "download"},
		{"config"},
		{"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not registered", path)
		}
	}
}

func TestApplyStudentFlags(t *testing.T) {
	st := &storage.Student{ID: "s1", Name: "Ada", AdmissionNo: "A-1", Email: "ada@example.com", Branch: "CSE", Semester: 2}

	cmd := &cobra.Command{Use: "update"}
	addStudentUpdateFlags(cmd)
	if err := cmd.Flags().Parse([]string{"--branch", " ECE ", "--email", "ADA@Example.com", "--semester", "5"}); err != nil {
		t.Fatal(err)
	}
	applyStudentFlags(cmd, st)

	want := storage.Student{ID: "s1", Name: "Ada", AdmissionNo: "A-1", Email: "ada@example.com", Branch: "ECE", Semester: 5}
	if *st != want {
		t.Errorf("student = %+v, want %+v", *st, want)
	}
}
