package vad

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(kind string, neural, native bool, neuralErr, nativeErr error) Options {
	return Options{
		Kind:            kind,
		Neural:          DefaultNeuralConfig(),
		NativeMode:      3,
		Logger:          quietLogger(),
		neuralAvailable: func() bool { return neural },
		newNeuralModel: func(string) (Model, error) {
			if neuralErr != nil {
				return nil, neuralErr
			}
			return &fakeModel{}, nil
		},
		nativeAvailable: func() bool { return native },
		newNative: func(int) (Detector, error) {
			if nativeErr != nil {
				return nil, nativeErr
			}
			return NewStubDetector(), nil
		},
	}
}

func TestOpenAutoResolution(t *testing.T) {
	broken := errors.New("no runtime")
	tests := []struct {
		name      string
		neural    bool
		native    bool
		neuralErr error
		nativeErr error
		devMode   bool
		want      string
		wantErr   bool
	}{
		{name: "silero compiled in", neural: true, native: true, want: KindSilero},
		{name: "webrtc only", native: true, want: KindWebRTC},
		{name: "nothing compiled in", want: KindStub},
		{name: "silero fails falls to webrtc", neural: true, native: true, neuralErr: broken, want: KindWebRTC},
		{name: "silero fails without fallback", neural: true, neuralErr: broken, wantErr: true},
		{name: "silero fails dev mode", neural: true, neuralErr: broken, devMode: true, want: KindStub},
		{name: "webrtc fails", native: true, nativeErr: broken, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := testOptions(KindAuto, tc.neural, tc.native, tc.neuralErr, tc.nativeErr)
			opts.DevMode = tc.devMode
			d, kind, err := Open(opts)
			if tc.wantErr {
				if !errors.Is(err, broken) {
					t.Fatalf("err = %v, want wrapped probe failure", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer d.Close()
			if kind != tc.want {
				t.Fatalf("kind = %q, want %q", kind, tc.want)
			}
		})
	}
}

func TestOpenExplicit(t *testing.T) {
	d, kind, err := Open(testOptions(KindSilero, true, false, nil, nil))
	if err != nil || kind != KindSilero {
		t.Fatalf("silero: kind=%q err=%v", kind, err)
	}
	if _, ok := d.(*NeuralDetector); !ok {
		t.Fatalf("silero returned %T", d)
	}

	if _, _, err := Open(testOptions(KindSilero, false, true, nil, nil)); !errors.Is(err, ErrNeuralUnavailable) {
		t.Fatalf("silero not compiled: err = %v", err)
	}

	if _, kind, err := Open(testOptions("WebRTC", false, true, nil, nil)); err != nil || kind != KindWebRTC {
		t.Fatalf("webrtc: kind=%q err=%v", kind, err)
	}

	d, kind, err = Open(testOptions(KindStub, true, true, nil, nil))
	if err != nil || kind != KindStub {
		t.Fatalf("stub: kind=%q err=%v", kind, err)
	}
	if _, ok := d.(*StubDetector); !ok {
		t.Fatalf("stub returned %T", d)
	}

	if _, _, err := Open(testOptions("energy", true, true, nil, nil)); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestOpenNeuralRejectsBadConfig(t *testing.T) {
	m := &fakeModel{}
	opts := testOptions(KindSilero, true, false, nil, nil)
	opts.newNeuralModel = func(string) (Model, error) { return m, nil }
	opts.Neural.EndThreshold = 0.95
	if _, _, err := Open(opts); err == nil {
		t.Fatal("expected config error")
	}
	if m.closed != 1 {
		t.Fatalf("model closed %d times after failed open, want 1", m.closed)
	}
}
