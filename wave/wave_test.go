package wave

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path string, rate int, stereo bool, chunks ...[]int16) {
	t.Helper()

	w, err := NewFile(path, rate)
	if err != nil {
		t.Fatal(err)
	}
	if stereo {
		w.EnableStereo()
	}
	total := 0
	for _, c := range chunks {
		n, err := w.Write(c)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(c) {
			t.Fatalf("wrote %d samples, want %d", n, len(c))
		}
		total += n
	}
	if w.SampleCount() != total {
		t.Fatalf("SampleCount() = %d, want %d", w.SampleCount(), total)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Run("mono", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mono.wav")
		writeFile(t, path, 44100, false,
			[]int16{0, 1, -1, 32767},
			[]int16{-32768, 1000, -1000},
		)

		snd, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if snd.SampleRate != 44100 {
			t.Errorf("SampleRate = %d, want 44100", snd.SampleRate)
		}
		want := []int16{0, 1, -1, 32767, -32768, 1000, -1000}
		if diff := cmp.Diff(snd.Samples, want); diff != "" {
			t.Errorf("response mismatch (-got +want):\n%s", diff)
		}
	})

	t.Run("stereo keeps left", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stereo.wav")
		writeFile(t, path, 22050, true, []int16{10, -10, 20, -20, 30, -30})

		snd, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if snd.SampleRate != 22050 {
			t.Errorf("SampleRate = %d, want 22050", snd.SampleRate)
		}
		if diff := cmp.Diff(snd.Samples, []int16{10, 20, 30}); diff != "" {
			t.Errorf("response mismatch (-got +want):\n%s", diff)
		}
	})
}

func TestEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	writeFile(t, path, 8000, false)

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 44 {
		t.Errorf("file size = %d, want a bare 44 bytes header", fi.Size())
	}
}

func TestLoadUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sound.ogg")
	if err := os.WriteFile(path, []byte("OggS"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported file type")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(bad, []byte("not a wave file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected error for invalid wav file")
	}
}
