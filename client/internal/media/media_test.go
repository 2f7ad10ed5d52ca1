package media

import (
	"image"
	"image/color"
	"testing"
)

func TestSelectQualityThresholds(t *testing.T) {
	cases := []struct {
		loss, rtt float64
		want      string
	}{
		{loss: 20, rtt: 50, want: "144p"},
		{loss: 15.1, rtt: 50, want: "144p"},
		{loss: 15, rtt: 50, want: "240p"}, // strict >: exactly 15% stays at 240p
		{loss: 12, rtt: 50, want: "240p"},
		{loss: 10, rtt: 50, want: "360p"}, // strict >: exactly 10% stays at 360p
		{loss: 5, rtt: 50, want: "360p"},
		{loss: 2, rtt: 50, want: "480p"}, // strict >: exactly 2% allows 480p
		{loss: 0, rtt: 50, want: "480p"},
		{loss: 0, rtt: 400, want: "480p"}, // RTT of exactly 400 ms still allows 480p
		{loss: 0, rtt: 401, want: "360p"},
		{loss: 1, rtt: 1000, want: "360p"},
	}
	for _, c := range cases {
		if got := SelectQuality(c.loss, c.rtt); got.Name != c.want {
			t.Errorf("SelectQuality(%v%%, %vms) = %s, want %s", c.loss, c.rtt, got.Name, c.want)
		}
	}
}

func TestQualityTable(t *testing.T) {
	want := []struct {
		name          string
		w, h, fps, jq int
	}{
		{"144p", 256, 144, 5, 40},
		{"240p", 426, 240, 10, 50},
		{"360p", 640, 360, 15, 60},
		{"480p", 854, 480, 20, 70},
	}
	if len(Qualities) != len(want) {
		t.Fatalf("tier count %d, want %d", len(Qualities), len(want))
	}
	for i, w := range want {
		q := Qualities[i]
		if q.Name != w.name || q.Width != w.w || q.Height != w.h || q.FPS != w.fps || q.JPEGQuality != w.jq {
			t.Errorf("tier %d = %+v, want %+v", i, q, w)
		}
	}
}

func TestQualityByNameUnknownDefaults(t *testing.T) {
	if got := QualityByName("8k"); got.Name != "360p" {
		t.Fatalf("unknown tier resolved to %s, want 360p", got.Name)
	}
}

func TestJPEGCodecRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}

	var codec JPEGCodec
	payload, err := codec.Encode(src, 32, 24, 70)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("empty payload")
	}

	img, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Fatalf("decoded size %dx%d, want scaled 32x24", b.Dx(), b.Dy())
	}
}

func TestJPEGDecodeGarbage(t *testing.T) {
	var codec JPEGCodec
	if _, err := codec.Decode([]byte{0, 1, 2, 3}); err == nil {
		t.Fatal("expected error on garbage payload")
	}
}
