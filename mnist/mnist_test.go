package mnist

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func idxImages(t *testing.T, magic int32, images ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []int32{magic, int32(len(images)), ImgSize, ImgSize})
	for _, img := range images {
		buf.Write(img)
	}
	return buf.Bytes()
}

func idxLabels(t *testing.T, magic int32, labels ...byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, []int32{magic, int32(len(labels))})
	buf.Write(labels)
	return buf.Bytes()
}

func filled(v byte) []byte {
	img := make([]byte, ImageSize)
	for i := range img {
		img[i] = v
	}
	return img
}

func TestOneHot(t *testing.T) {
	labels := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	out, err := OneHot(labels, NumClasses)
	if err != nil {
		t.Fatalf("OneHot: %v", err)
	}
	if s := out.Shape(); s[0] != 10 || s[1] != NumClasses {
		t.Fatalf("shape = %v; want (10, 10)", s)
	}
	data := out.Data().([]float32)
	for i, label := range labels {
		ones := 0
		for j := 0; j < NumClasses; j++ {
			v := data[i*NumClasses+j]
			switch {
			case j == label && v != 1:
				t.Errorf("label %d: index %d = %v; want 1", label, j, v)
			case j != label && v != 0:
				t.Errorf("label %d: index %d = %v; want 0", label, j, v)
			}
			if v == 1 {
				ones++
			}
		}
		if ones != 1 {
			t.Errorf("label %d has %d ones", label, ones)
		}
	}
}

func TestOneHotOutOfRange(t *testing.T) {
	for _, label := range []int{-1, 10} {
		if _, err := OneHot([]int{label}, NumClasses); err == nil {
			t.Errorf("OneHot(%d) did not return error", label)
		}
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]byte{0, 51, 255})
	want := []float32{0, 0.2, 1}
	for i := range want {
		if diff := got[i] - want[i]; diff < -1e-6 || diff > 1e-6 {
			t.Errorf("Normalize[%d] = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestReadImagesAndLabels(t *testing.T) {
	images, err := ReadImages(bytes.NewReader(idxImages(t, imageMagic, filled(0), filled(255))))
	if err != nil {
		t.Fatalf("ReadImages: %v", err)
	}
	if len(images) != 2 || images[1][ImageSize-1] != 255 {
		t.Fatalf("unexpected images: %d read", len(images))
	}

	labels, err := ReadLabels(bytes.NewReader(idxLabels(t, labelMagic, 7, 3)))
	if err != nil {
		t.Fatalf("ReadLabels: %v", err)
	}
	if len(labels) != 2 || labels[0] != 7 || labels[1] != 3 {
		t.Errorf("labels = %v; want [7 3]", labels)
	}
}

func TestReadRejectsBadInput(t *testing.T) {
	if _, err := ReadImages(bytes.NewReader(idxImages(t, labelMagic, filled(0)))); err == nil {
		t.Error("ReadImages accepted label magic")
	}
	if _, err := ReadLabels(bytes.NewReader(idxLabels(t, imageMagic, 1))); err == nil {
		t.Error("ReadLabels accepted image magic")
	}
	truncated := idxImages(t, imageMagic, filled(1))
	if _, err := ReadImages(bytes.NewReader(truncated[:len(truncated)-1])); err == nil {
		t.Error("ReadImages accepted a truncated stream")
	}
}

func TestSplitBatch(t *testing.T) {
	split, err := NewSplit([][]byte{filled(0), filled(255), filled(51)}, []int{4, 2, 9})
	if err != nil {
		t.Fatalf("NewSplit: %v", err)
	}
	if split.Len() != 3 {
		t.Fatalf("Len = %d; want 3", split.Len())
	}
	x, y := split.Batch([]int{2, 1})
	if r, c := x.Dims(); r != 2 || c != ImageSize {
		t.Fatalf("x dims = (%d, %d)", r, c)
	}
	for _, v := range x.RawRowView(1) {
		if v != 1 {
			t.Fatalf("row for label 2 holds %v; want 1", v)
		}
	}
	for _, v := range x.RawRowView(0) {
		if v < 0 || v > 1 {
			t.Fatalf("value %v out of [0, 1]", v)
		}
	}
	if y.At(0, 9) != 1 || y.At(1, 2) != 1 {
		t.Errorf("one-hot rows do not match labels 9 and 2")
	}
}

func TestNewSplitErrors(t *testing.T) {
	if _, err := NewSplit([][]byte{filled(0)}, []int{1, 2}); err == nil {
		t.Error("NewSplit accepted mismatched counts")
	}
	if _, err := NewSplit([][]byte{make([]byte, 10)}, []int{1}); err == nil {
		t.Error("NewSplit accepted a short image")
	}
	if _, err := NewSplit([][]byte{filled(0)}, []int{12}); err == nil {
		t.Error("NewSplit accepted label 12")
	}
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	payload := []byte("not really gzip")
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write(payload)
	}))
	defer srv.Close()

	oldURL, oldDigests := BaseURL, digests
	defer func() { BaseURL, digests = oldURL, oldDigests }()
	BaseURL = srv.URL + "/"
	digests = map[string]string{trainSetImg: digest, trainSetVal: digest, inferSetImg: digest, inferSetVal: digest}

	dir := t.TempDir()
	if err := Fetch(dir); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if requests != 4 {
		t.Errorf("made %d requests; want 4", requests)
	}
	// Cached files are not downloaded again.
	if err := Fetch(dir); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if requests != 4 {
		t.Errorf("made %d requests after second Fetch; want 4", requests)
	}

	if err := os.WriteFile(filepath.Join(dir, trainSetImg), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Fetch(dir); err == nil {
		t.Error("Fetch accepted a file with the wrong digest")
	}
}
