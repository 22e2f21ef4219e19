package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/fakecoinbase/PttnslashrieMiner/miner"
	"github.com/fakecoinbase/PttnslashrieMiner/minerconfig"
	"github.com/fakecoinbase/PttnslashrieMiner/minerstats"
)

// poolMessage is the pool wire protocol: newline-delimited JSON over TCP,
// or the same JSON payloads framed as individual websocket text messages
// when --pool-transport=ws, matching cmd/dilithium-miner/pool_worker.go's
// PoolMessage shape with height/pow_hash/offset fields swapped in for
// the coin's own Index/Nonce/Hash/Block fields.
type poolMessage struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Threads int    `json:"threads,omitempty"`

	Height     uint32 `json:"height,omitempty"`
	Difficulty uint32 `json:"difficulty,omitempty"`
	PowHash    string `json:"pow_hash,omitempty"`

	Offset string `json:"offset,omitempty"`
	Primes uint8  `json:"primes,omitempty"`

	Workers int    `json:"workers,omitempty"`
	Found   int    `json:"found,omitempty"`
	Shares  int64  `json:"shares,omitempty"`
	Earnings string `json:"earnings,omitempty"`
	PoolFee  string `json:"pool_fee,omitempty"`
}

// poolConn abstracts the two supported transports (raw TCP,
// line-delimited JSON, and gorilla/websocket text frames) behind one
// send/receive surface, since the message protocol is identical either
// way (§4.L).
type poolConn interface {
	Send(msg poolMessage) error
	Recv() (poolMessage, error)
	Close() error
}

type tcpPoolConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func dialTCPPool(addr string) (poolConn, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to pool: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	return &tcpPoolConn{conn: conn, scanner: scanner}, nil
}

func (c *tcpPoolConn) Send(msg poolMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = c.conn.Write(data)
	return err
}

func (c *tcpPoolConn) Recv() (poolMessage, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return poolMessage{}, err
		}
		return poolMessage{}, fmt.Errorf("pool connection closed")
	}
	var msg poolMessage
	if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
		return poolMessage{}, nil // matches teacher's "skip bad line" tolerance
	}
	return msg, nil
}

func (c *tcpPoolConn) Close() error { return c.conn.Close() }

type wsPoolConn struct {
	conn *websocket.Conn
}

func dialWSPool(addr string) (poolConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to pool: %w", err)
	}
	return &wsPoolConn{conn: conn}, nil
}

func (c *wsPoolConn) Send(msg poolMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsPoolConn) Recv() (poolMessage, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return poolMessage{}, err
	}
	var msg poolMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return poolMessage{}, nil
	}
	return msg, nil
}

func (c *wsPoolConn) Close() error { return c.conn.Close() }

// poolWorkManager maintains a persistent connection to a pool, the way
// PoolClient does in cmd/dilithium-miner/pool_worker.go, adapted from
// that file's push-driven mineForPool model to this miner's pull-driven
// GetWork/SubmitWork model: an internal channel buffers the most recent
// "work" message so GetWork can block on it instead of receiving a
// callback.
type poolWorkManager struct {
	opts      miner.Options
	poolAddr  string
	transport string
	address   string
	threads   int
	stats     *minerstats.Stats

	mu   sync.Mutex
	conn poolConn

	workCh chan poolMessage
}

func newPoolWorkManager(cfg *minerconfig.Config, opts miner.Options, stats *minerstats.Stats) *poolWorkManager {
	return &poolWorkManager{
		opts:      opts,
		poolAddr:  cfg.PoolAddress,
		transport: cfg.PoolTransport,
		address:   cfg.WalletAddress,
		threads:   opts.Threads,
		stats:     stats,
		workCh:    make(chan poolMessage, 1),
	}
}

func (p *poolWorkManager) Options() miner.Options { return p.opts }

// Run maintains the pool connection in the background, reconnecting
// with the teacher's 5-second backoff on any error, until ctx is done.
func (p *poolWorkManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.connectAndListen(ctx); err != nil {
			color.Red("pool: connection error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
			color.Yellow("pool: reconnecting...")
		}
	}
}

func (p *poolWorkManager) connectAndListen(ctx context.Context) error {
	var conn poolConn
	var err error
	if p.transport == "ws" {
		conn, err = dialWSPool(p.poolAddr)
	} else {
		conn, err = dialTCPPool(p.poolAddr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if err := conn.Send(poolMessage{Type: "register", Address: p.address, Threads: p.threads}); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	color.Cyan("pool: registered address=%s threads=%d", p.address, p.threads)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := conn.Recv()
		if err != nil {
			return err
		}
		switch msg.Type {
		case "work":
			select {
			case <-p.workCh:
			default:
			}
			select {
			case p.workCh <- msg:
			default:
			}
		case "stats":
			if msg.Earnings != "" {
				color.Cyan("pool: %d workers | %d found | shares %d | earnings %s | fee %s", msg.Workers, msg.Found, msg.Shares, msg.Earnings, msg.PoolFee)
			} else {
				color.Cyan("pool: %d workers | %d found | shares %d", msg.Workers, msg.Found, msg.Shares)
			}
		}
	}
}

// GetWork blocks until the pool pushes a "work" message, converting it
// to a WorkData the same way soloWorkManager.GetWork does.
func (p *poolWorkManager) GetWork(ctx context.Context) (miner.WorkData, bool) {
	select {
	case <-ctx.Done():
		return miner.WorkData{}, false
	case msg := <-p.workCh:
		powHash, err := decodePowHash(msg.PowHash)
		if err != nil {
			color.Red("pool: malformed pow_hash: %v", err)
			return miner.WorkData{}, false
		}
		color.Cyan("pool: received work height=%d difficulty=%d", msg.Height, msg.Difficulty)
		return miner.NewWorkData(powHash, msg.Height, msg.Difficulty), true
	}
}

// SubmitWork sends a "share" for sub-block tuples or a "block" for a
// full solution, the way submitShare/submitBlockToPool split in the
// teacher; this miner's pipeline never calls Submit below
// fermat.MinPoolLength in pool mode, so every submission here is at
// least a share.
func (p *poolWorkManager) SubmitWork(ctx context.Context, work miner.WorkData) {
	msgType := "share"
	if int(work.Primes) >= p.opts.TupleLengthMin {
		msgType = "block"
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}

	msg := poolMessage{
		Type:   msgType,
		Height: work.Height,
		Offset: hex.EncodeToString(work.NOffset[:]),
		Primes: work.Primes,
	}
	if err := conn.Send(msg); err != nil {
		color.Red("pool: error submitting %s: %v", msgType, err)
		return
	}

	if msgType == "block" {
		p.stats.IncBlock()
		color.Green("pool: submitted %d-tuple block at height %d", work.Primes, work.Height)
	} else {
		p.stats.IncShare()
	}
}

func (p *poolWorkManager) IncTupleCount(length int) { p.stats.IncTupleCount(length) }
