// Package udp streams published orientation snapshots as JSON datagrams.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"tiltlevel/internal/level"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Sink sends one datagram per snapshot to a fixed destination.
type Sink struct {
	dest string
	conn udpConn
	log  *slog.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewSink(dest string, logger *slog.Logger) (*Sink, error) {
	return newSink(dest, logger, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newSink(dest string, logger *slog.Logger, resolve resolveFunc, dial dialFunc) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", dest, err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", dest, err)
	}
	return &Sink{dest: dest, conn: conn, log: logger}, nil
}

// Datagram is the wire payload.
type Datagram struct {
	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	IsLevel  bool    `json:"is_level"`
	Seq      uint64  `json:"seq"`
	UnixMs   int64   `json:"unix_ms"`
}

func (s *Sink) Send(snap level.Snapshot) error {
	b, err := json.Marshal(Datagram{
		RollDeg:  snap.RollDeg,
		PitchDeg: snap.PitchDeg,
		IsLevel:  snap.IsLevel,
		Seq:      snap.Seq,
		UnixMs:   snap.At.UnixMilli(),
	})
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(b); err != nil {
		s.failed.Add(1)
		return err
	}
	s.sent.Add(1)
	return nil
}

// Run sends every snapshot published on src until ctx ends or src closes.
// Write errors are logged once and otherwise counted.
func (s *Sink) Run(ctx context.Context, src *level.Observable) {
	id, ch := src.Subscribe(8)
	defer src.Unsubscribe(id)
	s.log.Info("udp sink started", "dest", s.dest)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Send(snap); err != nil && s.failed.Load() == 1 {
				s.log.Warn("udp send failed", "dest", s.dest, "error", err)
			}
		}
	}
}

func (s *Sink) Sent() uint64   { return s.sent.Load() }
func (s *Sink) Failed() uint64 { return s.failed.Load() }

func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
