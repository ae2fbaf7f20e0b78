package filehandler

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsImage(t *testing.T) {
	tests := []struct {
		ext      string
		expected bool
	}{
		{".jpg", true},
		{".jpeg", true},
		{".JPG", true},
		{".JPEG", true},
		{".png", true},
		{".PNG", true},
		{".gif", true},
		{".webp", true},
		{".heic", true},
		{".HEIC", true},
		{".heif", true},
		{".mp4", false},
		{".mov", false},
		{".txt", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			result := IsImage(tt.ext)
			if result != tt.expected {
				t.Errorf("IsImage(%q) = %v, want %v", tt.ext, result, tt.expected)
			}
		})
	}
}

func TestGetMIMEType(t *testing.T) {
	tests := []struct {
		ext     string
		want    string
		wantErr bool
	}{
		{".jpg", "image/jpeg", false},
		{".JPEG", "image/jpeg", false},
		{".png", "image/png", false},
		{".webp", "image/webp", false},
		{".heic", "image/heic", false},
		{".mp4", "", true},
		{".txt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, err := GetMIMEType(tt.ext)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetMIMEType(%q) error = %v, wantErr %v", tt.ext, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("GetMIMEType(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestExtensionForMIME(t *testing.T) {
	tests := map[string]string{
		"image/png":  ".png",
		"image/jpeg": ".jpg",
		"IMAGE/JPEG": ".jpg",
		"image/webp": ".webp",
		"":           ".png",
	}
	for mime, want := range tests {
		if got := ExtensionForMIME(mime); got != want {
			t.Errorf("ExtensionForMIME(%q) = %q, want %q", mime, got, want)
		}
	}
}

// writePNG writes a solid PNG of the given size and returns its path.
func writePNG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 80, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	return path
}

func TestLoadSourcePhoto(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "portrait.png", 40, 50)

	photo, err := LoadSourcePhoto(path)
	if err != nil {
		t.Fatalf("LoadSourcePhoto() error = %v", err)
	}
	if photo.Width != 40 || photo.Height != 50 {
		t.Errorf("dimensions = %dx%d, want 40x50", photo.Width, photo.Height)
	}
	if photo.Image.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q", photo.Image.MIMEType)
	}
	if photo.Image.SHA256 == "" || len(photo.Image.Data) == 0 {
		t.Error("image bytes or digest missing")
	}
	if photo.Path != path {
		t.Errorf("Path = %q, want %q", photo.Path, path)
	}
}

func TestLoadSourcePhotoErrors(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.jpg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(dir, "corrupt.png")
	if err := os.WriteFile(corrupt, []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing", filepath.Join(dir, "missing.jpg"), "file not found"},
		{"directory", dir, "directory"},
		{"empty", empty, "empty"},
		{"unsupported", text, "unsupported file extension"},
		{"corrupt", corrupt, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSourcePhoto(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadSourcePhoto() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSourcePhotoHEICWithoutDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.heic")
	if err := os.WriteFile(path, []byte("opaque heic bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	photo, err := LoadSourcePhoto(path)
	if err != nil {
		t.Fatalf("LoadSourcePhoto() error = %v", err)
	}
	if photo.Width != 0 || photo.Image.MIMEType != "image/heic" {
		t.Errorf("photo = %+v", photo)
	}
}

func TestImageMetadataCamera(t *testing.T) {
	tests := []struct {
		make, model, want string
	}{
		{"Apple", "iPhone 15 Pro", "Apple iPhone 15 Pro"},
		{"Canon", "Canon EOS R5", "Canon EOS R5"},
		{"", "X100V", "X100V"},
		{"FUJIFILM", "", "FUJIFILM"},
		{"", "", ""},
	}
	for _, tt := range tests {
		m := &ImageMetadata{CameraMake: tt.make, CameraModel: tt.model}
		if got := m.Camera(); got != tt.want {
			t.Errorf("Camera(%q, %q) = %q, want %q", tt.make, tt.model, got, tt.want)
		}
	}
}

func TestScanPhotos(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "b.png", 4, 4)
	writePNG(t, dir, "a.png", 4, 4)
	writePNG(t, dir, "a_grid.png", 4, 4)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, sub, "c.png", 4, 4)

	all, err := ScanPhotos(dir, ScanOptions{})
	if err != nil {
		t.Fatalf("ScanPhotos() error = %v", err)
	}
	var names []string
	for _, p := range all {
		names = append(names, filepath.Base(p))
	}
	if strings.Join(names, ",") != "a.png,b.png,c.png" {
		t.Errorf("ScanPhotos() = %v", names)
	}

	top, err := ScanPhotos(dir, ScanOptions{MaxDepth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Errorf("MaxDepth 1 returned %d photos, want 2", len(top))
	}

	limited, err := ScanPhotos(dir, ScanOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("Limit 1 returned %d photos", len(limited))
	}

	if _, err := ScanPhotos(filepath.Join(dir, "a.png"), ScanOptions{}); err == nil {
		t.Error("ScanPhotos() on a file should fail")
	}
}
