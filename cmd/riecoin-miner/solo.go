package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"

	"github.com/fakecoinbase/PttnslashrieMiner/miner"
	"github.com/fakecoinbase/PttnslashrieMiner/minerconfig"
	"github.com/fakecoinbase/PttnslashrieMiner/minerstats"
)

// nodeStatusResponse mirrors the teacher's APIResponse{success,message,data}
// envelope from cmd/dilithium-miner/miner.go, with the "data" fields this
// miner needs instead of the coin's block-height/reward fields.
type nodeStatusResponse struct {
	Success bool `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Height     uint32 `json:"height"`
		Difficulty uint32 `json:"difficulty"`
		PowHash    string `json:"pow_hash"`
	} `json:"data"`
}

type submitRequest struct {
	Height  uint32 `json:"height"`
	Offset  string `json:"offset"` // hex, little-endian, matches WorkData.NOffset
	Primes  uint8  `json:"primes"`
	Address string `json:"address"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// soloWorkManager polls a node's HTTP API for work and posts found offsets
// back, the way cmd/dilithium-miner/miner.go's getWork/submitBlock do for
// the coin's own hash-prefix proof of work.
type soloWorkManager struct {
	opts       miner.Options
	nodeAddr   string
	address    string
	httpClient *http.Client
	stats      *minerstats.Stats

	lastHeight uint32
}

func newSoloWorkManager(cfg *minerconfig.Config, opts miner.Options, stats *minerstats.Stats) *soloWorkManager {
	return &soloWorkManager{
		opts:       opts,
		nodeAddr:   cfg.NodeAddress,
		address:    cfg.WalletAddress,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stats:      stats,
	}
}

func (s *soloWorkManager) Options() miner.Options { return s.opts }

// GetWork polls /status until a new height appears, retrying with the
// teacher's 5-second backoff on transport errors. It blocks until new
// work is available or ctx is cancelled.
func (s *soloWorkManager) GetWork(ctx context.Context) (miner.WorkData, bool) {
	for {
		select {
		case <-ctx.Done():
			return miner.WorkData{}, false
		default:
		}

		status, err := s.fetchStatus(ctx)
		if err != nil {
			color.Red("solo: error getting work: %v", err)
			if !sleepOrDone(ctx, 5*time.Second) {
				return miner.WorkData{}, false
			}
			continue
		}

		if status.Data.Height == s.lastHeight {
			if !sleepOrDone(ctx, time.Second) {
				return miner.WorkData{}, false
			}
			continue
		}
		s.lastHeight = status.Data.Height

		powHash, err := decodePowHash(status.Data.PowHash)
		if err != nil {
			color.Red("solo: malformed pow_hash from node: %v", err)
			continue
		}

		return miner.NewWorkData(powHash, status.Data.Height, status.Data.Difficulty), true
	}
}

func (s *soloWorkManager) fetchStatus(ctx context.Context) (*nodeStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.nodeAddr+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to node: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var status nodeStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("invalid response: %s", string(body))
	}
	if !status.Success {
		return nil, fmt.Errorf("node error: %s", status.Message)
	}
	return &status, nil
}

// SubmitWork posts a found offset to /block/submit, exactly as the
// teacher's submitBlock does, just with this miner's own JSON shape.
func (s *soloWorkManager) SubmitWork(ctx context.Context, work miner.WorkData) {
	req := submitRequest{
		Height:  work.Height,
		Offset:  hex.EncodeToString(work.NOffset[:]),
		Primes:  work.Primes,
		Address: s.address,
	}
	data, err := json.Marshal(req)
	if err != nil {
		color.Red("solo: encoding submission: %v", err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.nodeAddr+"/block/submit", bytes.NewReader(data))
	if err != nil {
		color.Red("solo: building submission request: %v", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		color.Red("solo: error submitting work: %v", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		color.Red("solo: reading submission response: %v", err)
		return
	}

	var sub submitResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		color.Red("solo: invalid submission response: %s", string(body))
		return
	}
	if !sub.Success {
		color.Red("solo: submission rejected: %s", sub.Message)
		return
	}

	s.stats.IncBlock()
	color.Green("block #%d accepted! (%d-tuple)", work.Height, work.Primes)
}

func (s *soloWorkManager) IncTupleCount(length int) { s.stats.IncTupleCount(length) }

func decodePowHash(hexStr string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("want %d bytes, got %d", len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// sleepOrDone waits for d or ctx cancellation, reporting which happened;
// it exists so retry loops don't leak a goroutine's sleep past shutdown.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// checkNode verifies connectivity to the node at startup, matching the
// teacher's own checkNode preflight in cmd/dilithium-miner/miner.go.
func checkNode(ctx context.Context, nodeAddr string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeAddr+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var status nodeStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("invalid response from node")
	}
	if !status.Success {
		return fmt.Errorf("node returned error: %s", status.Message)
	}
	return nil
}
