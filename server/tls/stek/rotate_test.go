package stek

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewRotator_InvalidParameters(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		overlap  uint8
		wantErr  bool
	}{
		{"zero interval", 0, 2, true},
		{"negative interval", -time.Hour, 2, true},
		{"zero overlap", time.Hour, 0, true},
		{"valid", time.Hour, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRotator(tt.interval, tt.overlap, zerolog.Nop())
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

// Property: after any number of rotations the set holds at most overlap
// distinct keys, newest first, and the previous newest key is retained
func TestRotator_Property_Overlap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		overlap := rapid.Uint8Range(1, 5).Draw(t, "overlap")
		r, err := NewRotator(time.Hour, overlap, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		n := rapid.IntRange(1, 10).Draw(t, "rotations")
		for range n {
			before := r.Keys()
			if err := r.rotate(); err != nil {
				t.Fatal(err)
			}
			after := r.Keys()
			if len(after) > int(overlap) {
				t.Fatalf("got %d keys, overlap %d", len(after), overlap)
			}
			if after[0] == before[0] {
				t.Fatal("newest key did not change")
			}
			if overlap > 1 && after[1] != before[0] {
				t.Fatal("previous key not retained")
			}
		}
	})
}

func TestRotator_StartStop(t *testing.T) {
	r, err := NewRotator(10*time.Millisecond, 2, zerolog.Nop())
	require.NoError(t, err)
	first := r.Keys()[0]

	r.Start(context.Background())
	require.Eventually(t, func() bool { return r.Keys()[0] != first }, time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()
}

func TestRotator_StopBeforeStart(t *testing.T) {
	r, err := NewRotator(time.Hour, 2, zerolog.Nop())
	require.NoError(t, err)
	r.Stop()
	r.Start(context.Background())
}

func TestRotator_ContextCancel(t *testing.T) {
	r, err := NewRotator(time.Hour, 2, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	r.Stop()
}

func TestRotator_Apply(t *testing.T) {
	r, err := NewRotator(time.Hour, 2, zerolog.Nop())
	require.NoError(t, err)

	base := &tls.Config{MinVersion: tls.VersionTLS13}
	conf := r.Apply(base)
	require.NotNil(t, conf.GetConfigForClient)
	assert.Nil(t, base.GetConfigForClient)

	perClient, err := conf.GetConfigForClient(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), perClient.MinVersion)
}
