package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakecoinbase/PttnslashrieMiner/miner"
	"github.com/fakecoinbase/PttnslashrieMiner/minerconfig"
	"github.com/fakecoinbase/PttnslashrieMiner/minerstats"
)

func TestDecodePowHashRoundTrip(t *testing.T) {
	var want [32]byte
	want[0] = 0xAB
	want[31] = 0xCD

	got, err := decodePowHash(hex.EncodeToString(want[:]))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodePowHashRejectsWrongLength(t *testing.T) {
	_, err := decodePowHash("abcd")
	assert.Error(t, err)
}

func TestSoloGetWorkPollsUntilHeightChanges(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		height := uint32(0)
		if calls >= 2 {
			height = 42
		}
		resp := nodeStatusResponse{Success: true}
		resp.Data.Height = height
		resp.Data.Difficulty = 300
		resp.Data.PowHash = strings.Repeat("00", 31) + "01"
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := &minerconfig.Config{NodeAddress: srv.URL}
	wm := newSoloWorkManager(cfg, miner.Options{}, minerstats.New(time.Now()))

	work, ok := wm.GetWork(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint32(42), work.Height)
	assert.Equal(t, uint32(300), work.Difficulty)
}
