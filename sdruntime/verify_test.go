package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestModelDirName(t *testing.T) {
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{id: "SimianLuo/LCM_Dreamshaper_v7", want: "models--SimianLuo--LCM_Dreamshaper_v7"},
		{id: "local-model", want: "models--local-model"},
		{id: "  org/name  ", want: "models--org--name"},
		{id: "", wantErr: true},
		{id: "../secrets", wantErr: true},
		{id: "/abs/path", wantErr: true},
		{id: `C:\models`, wantErr: true},
		{id: "org//name", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := modelDirName(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("modelDirName(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidModelID) {
					t.Errorf("error = %v, want ErrInvalidModelID", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("modelDirName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestResolveOfflineModel(t *testing.T) {
	dir := t.TempDir()
	want := mkModelDir(t, dir, "org/model", nil)

	got, err := ResolveOfflineModel(dir, "org/model")
	if err != nil {
		t.Fatalf("ResolveOfflineModel() error = %v", err)
	}
	if got != want {
		t.Errorf("ResolveOfflineModel() = %q, want %q", got, want)
	}

	if _, err := ResolveOfflineModel(dir, "org/other"); !IsModelNotFound(err) {
		t.Errorf("missing model error = %v, want ErrModelNotFound", err)
	}

	// A regular file where the directory should be.
	if err := os.WriteFile(filepath.Join(dir, "models--file"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ResolveOfflineModel(dir, "file"); !IsModelNotFound(err) {
		t.Errorf("file instead of dir error = %v, want ErrModelNotFound", err)
	}
}

func TestVerifyManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		files    map[string]string
		wantErr  error
	}{
		{
			name: "no manifest",
		},
		{
			name:     "matching checksums",
			manifest: sha256Hex("unet") + "  unet.bin\n# comment\n\n" + sha256Hex("vae") + " *vae.bin\n",
			files:    map[string]string{"unet.bin": "unet", "vae.bin": "vae"},
		},
		{
			name:     "mismatch",
			manifest: sha256Hex("other") + "  unet.bin\n",
			files:    map[string]string{"unet.bin": "unet"},
			wantErr:  ErrModelCorrupted,
		},
		{
			name:     "listed file missing",
			manifest: sha256Hex("unet") + "  unet.bin\n",
			wantErr:  ErrModelNotFound,
		},
		{
			name:     "malformed line",
			manifest: "not-a-valid-line-with-three fields here\n",
			wantErr:  ErrModelCorrupted,
		},
		{
			name:     "escapes directory",
			manifest: sha256Hex("x") + "  ../outside.bin\n",
			wantErr:  ErrModelCorrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
					t.Fatal(err)
				}
			}
			if tt.manifest != "" {
				if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(tt.manifest), 0644); err != nil {
					t.Fatal(err)
				}
			}

			err := VerifyManifest(dir)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("VerifyManifest() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyManifest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCalculateChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.bin")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := CalculateChecksum(path)
	if err != nil {
		t.Fatalf("CalculateChecksum() error = %v", err)
	}
	if want := sha256Hex("hello"); got != want {
		t.Errorf("CalculateChecksum() = %s, want %s", got, want)
	}

	if _, err := CalculateChecksum(path + ".missing"); !IsModelNotFound(err) {
		t.Errorf("missing file error = %v, want ErrModelNotFound", err)
	}
}
